package orderbook

import "github.com/memeperp/venue/internal/fixedpoint"

// MaxPriceHeap implements heap.Interface over long-side (bid) price levels,
// highest price on top. Generalized from the teacher's int64 MaxPriceHeap
// onto fixedpoint.Price.
type MaxPriceHeap []fixedpoint.Price

func (h MaxPriceHeap) Len() int           { return len(h) }
func (h MaxPriceHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h MaxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MaxPriceHeap) Push(x any) { *h = append(*h, x.(fixedpoint.Price)) }

func (h *MaxPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h MaxPriceHeap) Peek() fixedpoint.Price {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}

// MinPriceHeap implements heap.Interface over short-side (ask) price levels,
// lowest price on top.
type MinPriceHeap []fixedpoint.Price

func (h MinPriceHeap) Len() int           { return len(h) }
func (h MinPriceHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h MinPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MinPriceHeap) Push(x any) { *h = append(*h, x.(fixedpoint.Price)) }

func (h *MinPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h MinPriceHeap) Peek() fixedpoint.Price {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}
