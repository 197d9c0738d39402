package fixedpoint

import "testing"

func TestNotionalOneTokenAtOneDollar(t *testing.T) {
	got := Notional(Size(ScaleSize), Price(ScalePrice))
	if got != USD(ScaleUSD) {
		t.Errorf("Notional(1, $1) = %d, want %d (1 USD)", got, ScaleUSD)
	}
}

func TestNotionalScalesLinearlyWithSize(t *testing.T) {
	got := Notional(Size(2*ScaleSize), Price(ScalePrice))
	if got != USD(2*ScaleUSD) {
		t.Errorf("Notional(2, $1) = %d, want %d", got, 2*ScaleUSD)
	}
}

func TestMarginAtTenXLeverage(t *testing.T) {
	notional := USD(1000 * ScaleUSD)
	got := Margin(notional, Bps(10*ScaleBps)) // 10x leverage expressed in bps (10000*10)
	want := USD(100 * ScaleUSD)
	if got != want {
		t.Errorf("Margin(1000 USD, 10x) = %d, want %d", got, want)
	}
}

func TestMarginZeroLeverageIsZero(t *testing.T) {
	if got := Margin(USD(1000), Bps(0)); got != 0 {
		t.Errorf("Margin with zero leverage = %d, want 0", got)
	}
}

func TestFeeOnAppliesRateInBps(t *testing.T) {
	// 5 bps taker fee on 1000 USD notional = 0.5 USD.
	got := FeeOn(USD(1000*ScaleUSD), Bps(5))
	want := USD(0.5 * ScaleUSD)
	if got != want {
		t.Errorf("FeeOn(1000 USD, 5bps) = %d, want %d", got, want)
	}
}

func TestUnrealizedPnLLongGainsWhenMarkAboveEntry(t *testing.T) {
	size := Size(ScaleSize) // 1 token
	entry := Price(1000 * ScalePrice)
	mark := Price(1100 * ScalePrice)
	got := UnrealizedPnL(1, size, entry, mark)
	want := USD(100 * ScaleUSD)
	if got != want {
		t.Errorf("long PnL on $100 gain = %d, want %d", got, want)
	}
}

func TestUnrealizedPnLShortGainsWhenMarkBelowEntry(t *testing.T) {
	size := Size(ScaleSize)
	entry := Price(1000 * ScalePrice)
	mark := Price(900 * ScalePrice)
	got := UnrealizedPnL(-1, size, entry, mark)
	want := USD(100 * ScaleUSD)
	if got != want {
		t.Errorf("short PnL on $100 drop = %d, want %d", got, want)
	}
}

func TestMarginRatioBpsNonPositiveEquitySaturates(t *testing.T) {
	got := MarginRatioBps(USD(100), USD(0))
	if got != Bps(1<<62-1) {
		t.Errorf("MarginRatioBps with zero equity = %d, want saturated max", got)
	}
	got = MarginRatioBps(USD(100), USD(-50))
	if got != Bps(1<<62-1) {
		t.Errorf("MarginRatioBps with negative equity = %d, want saturated max", got)
	}
}

func TestMarginRatioBpsHalfMaintenanceIsHalfScale(t *testing.T) {
	got := MarginRatioBps(USD(50), USD(100))
	want := Bps(ScaleBps / 2)
	if got != want {
		t.Errorf("MarginRatioBps(50,100) = %d, want %d", got, want)
	}
}

func TestAbsHelpers(t *testing.T) {
	if Size(-5).Abs() != 5 {
		t.Errorf("Size(-5).Abs() != 5")
	}
	if Size(5).Abs() != 5 {
		t.Errorf("Size(5).Abs() != 5")
	}
	if USD(-5).Abs() != 5 {
		t.Errorf("USD(-5).Abs() != 5")
	}
}

func TestRoundUpExactDivisionUnaffected(t *testing.T) {
	if got := RoundUp(10, 5); got != 2 {
		t.Errorf("RoundUp(10,5) = %d, want 2", got)
	}
}

func TestRoundUpRoundsAwayFromZero(t *testing.T) {
	if got := RoundUp(7, 2); got != 4 {
		t.Errorf("RoundUp(7,2) = %d, want 4", got)
	}
	if got := RoundUp(-7, 2); got != -4 {
		t.Errorf("RoundUp(-7,2) = %d, want -4", got)
	}
	if got := RoundUp(-7, -2); got != 4 {
		t.Errorf("RoundUp(-7,-2) = %d, want 4", got)
	}
}
