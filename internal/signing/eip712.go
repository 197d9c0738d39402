package signing

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator, preventing replay across venues
// and chains. Adapted from the teacher's EIP712Domain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func DefaultDomain() Domain {
	return Domain{Name: "memeperp-venue", Version: "1", ChainID: big.NewInt(1337)}
}

// OrderIntent is the canonical inbound order intent, spec.md §6.1.
type OrderIntent struct {
	Trader       common.Address
	Symbol       string
	Side         uint8 // 0 long, 1 short
	Type         uint8
	TIF          uint8
	ReduceOnly   bool
	PostOnly     bool
	Size         *big.Int
	Leverage     *big.Int
	Price        *big.Int
	TriggerPrice *big.Int
	Deadline     *big.Int
	Nonce        *big.Int
	ClientOrderID string
}

// CancelIntent is spec.md §6.1's cancel intent.
type CancelIntent struct {
	Trader  common.Address
	OrderID string
	Nonce   *big.Int
}

// CloseIntent is spec.md §6.1's close intent.
type CloseIntent struct {
	Trader common.Address
	PairID string
	Ratio  *big.Int // 1e4 scale, 10000 = full
	Nonce  *big.Int
}

// SetTPSLIntent is spec.md §6.1's TP/SL set intent.
type SetTPSLIntent struct {
	Trader        common.Address
	PairID        string
	TakeProfit    *big.Int // 0 == unset
	StopLoss      *big.Int // 0 == unset
	Nonce         *big.Int
}

// TypedSigner hashes/signs/verifies the four intent kinds under one domain.
type TypedSigner struct {
	domain Domain
}

func NewTypedSigner(domain Domain) *TypedSigner { return &TypedSigner{domain: domain} }

func (t *TypedSigner) domainTypes() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
	}
}

func (t *TypedSigner) domainMap() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              t.domain.Name,
		Version:           t.domain.Version,
		ChainId:           (*math.HexOrDecimal256)(t.domain.ChainID),
		VerifyingContract: t.domain.VerifyingContract.Hex(),
	}
}

func (t *TypedSigner) hash(primaryType string, fields []apitypes.Type, message apitypes.TypedDataMessage) ([]byte, error) {
	types := t.domainTypes()
	types[primaryType] = fields
	td := apitypes.TypedData{
		Types:       types,
		PrimaryType: primaryType,
		Domain:      t.domainMap(),
		Message:     message,
	}
	domainSep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	raw := append([]byte("\x19\x01"), append(domainSep, msgHash...)...)
	digest := crypto.Keccak256Hash(raw)
	return digest.Bytes(), nil
}

func (t *TypedSigner) HashOrder(o *OrderIntent) ([]byte, error) {
	fields := []apitypes.Type{
		{Name: "trader", Type: "address"},
		{Name: "symbol", Type: "string"},
		{Name: "side", Type: "uint8"},
		{Name: "type", Type: "uint8"},
		{Name: "tif", Type: "uint8"},
		{Name: "reduceOnly", Type: "bool"},
		{Name: "postOnly", Type: "bool"},
		{Name: "size", Type: "uint256"},
		{Name: "leverage", Type: "uint256"},
		{Name: "price", Type: "uint256"},
		{Name: "triggerPrice", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	}
	msg := apitypes.TypedDataMessage{
		"trader":       o.Trader.Hex(),
		"symbol":       o.Symbol,
		"side":         fmt.Sprintf("%d", o.Side),
		"type":         fmt.Sprintf("%d", o.Type),
		"tif":          fmt.Sprintf("%d", o.TIF),
		"reduceOnly":   o.ReduceOnly,
		"postOnly":     o.PostOnly,
		"size":         o.Size.String(),
		"leverage":     o.Leverage.String(),
		"price":        o.Price.String(),
		"triggerPrice": o.TriggerPrice.String(),
		"deadline":     o.Deadline.String(),
		"nonce":        o.Nonce.String(),
	}
	return t.hash("Order", fields, msg)
}

func (t *TypedSigner) VerifyOrder(o *OrderIntent, signature []byte) (bool, error) {
	h, err := t.HashOrder(o)
	if err != nil {
		return false, err
	}
	return VerifySignature(o.Trader, h, signature), nil
}

func (t *TypedSigner) HashCancel(c *CancelIntent) ([]byte, error) {
	fields := []apitypes.Type{
		{Name: "trader", Type: "address"},
		{Name: "orderId", Type: "string"},
		{Name: "nonce", Type: "uint256"},
	}
	msg := apitypes.TypedDataMessage{
		"trader":  c.Trader.Hex(),
		"orderId": c.OrderID,
		"nonce":   c.Nonce.String(),
	}
	return t.hash("CancelOrder", fields, msg)
}

func (t *TypedSigner) VerifyCancel(c *CancelIntent, signature []byte) (bool, error) {
	h, err := t.HashCancel(c)
	if err != nil {
		return false, err
	}
	return VerifySignature(c.Trader, h, signature), nil
}

func (t *TypedSigner) HashClose(c *CloseIntent) ([]byte, error) {
	fields := []apitypes.Type{
		{Name: "trader", Type: "address"},
		{Name: "pairId", Type: "string"},
		{Name: "ratio", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	}
	msg := apitypes.TypedDataMessage{
		"trader": c.Trader.Hex(),
		"pairId": c.PairID,
		"ratio":  c.Ratio.String(),
		"nonce":  c.Nonce.String(),
	}
	return t.hash("Close", fields, msg)
}

func (t *TypedSigner) VerifyClose(c *CloseIntent, signature []byte) (bool, error) {
	h, err := t.HashClose(c)
	if err != nil {
		return false, err
	}
	return VerifySignature(c.Trader, h, signature), nil
}

func (t *TypedSigner) HashSetTPSL(s *SetTPSLIntent) ([]byte, error) {
	fields := []apitypes.Type{
		{Name: "trader", Type: "address"},
		{Name: "pairId", Type: "string"},
		{Name: "takeProfit", Type: "uint256"},
		{Name: "stopLoss", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	}
	msg := apitypes.TypedDataMessage{
		"trader":     s.Trader.Hex(),
		"pairId":     s.PairID,
		"takeProfit": s.TakeProfit.String(),
		"stopLoss":   s.StopLoss.String(),
		"nonce":      s.Nonce.String(),
	}
	return t.hash("SetTPSL", fields, msg)
}

func (t *TypedSigner) VerifySetTPSL(s *SetTPSLIntent, signature []byte) (bool, error) {
	h, err := t.HashSetTPSL(s)
	if err != nil {
		return false, err
	}
	return VerifySignature(s.Trader, h, signature), nil
}
