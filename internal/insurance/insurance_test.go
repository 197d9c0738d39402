package insurance

import "testing"

func TestContributeCreditsSymbolFund(t *testing.T) {
	f := New()
	f.Contribute("BTC-USD", 1000)
	symBal, global := f.Balance("BTC-USD")
	if symBal != 1000 || global != 0 {
		t.Errorf("Balance = %d/%d, want 1000/0", symBal, global)
	}
}

func TestContributeIgnoresNonPositiveAmounts(t *testing.T) {
	f := New()
	f.Contribute("BTC-USD", 0)
	f.Contribute("BTC-USD", -50)
	symBal, _ := f.Balance("BTC-USD")
	if symBal != 0 {
		t.Errorf("Balance after non-positive contributions = %d, want 0", symBal)
	}
}

func TestContributeGlobalCreditsSharedPool(t *testing.T) {
	f := New()
	f.ContributeGlobal(500)
	_, global := f.Balance("BTC-USD")
	if global != 500 {
		t.Errorf("global balance = %d, want 500", global)
	}
}

func TestDrawPrefersSymbolFundOverGlobal(t *testing.T) {
	f := New()
	f.Contribute("BTC-USD", 100)
	f.ContributeGlobal(1000)

	drawn, shortfall := f.Draw("BTC-USD", 60)
	if drawn != 60 || shortfall != 0 {
		t.Fatalf("Draw = %d/%d, want 60/0", drawn, shortfall)
	}
	symBal, global := f.Balance("BTC-USD")
	if symBal != 40 {
		t.Errorf("symbol fund after draw = %d, want 40", symBal)
	}
	if global != 1000 {
		t.Errorf("global pool should be untouched when symbol fund covers the draw, got %d", global)
	}
}

func TestDrawFallsBackToGlobalOnSymbolShortfall(t *testing.T) {
	f := New()
	f.Contribute("BTC-USD", 50)
	f.ContributeGlobal(1000)

	drawn, shortfall := f.Draw("BTC-USD", 200)
	if drawn != 200 || shortfall != 0 {
		t.Fatalf("Draw = %d/%d, want 200/0", drawn, shortfall)
	}
	symBal, global := f.Balance("BTC-USD")
	if symBal != 0 {
		t.Errorf("symbol fund after full draw = %d, want 0", symBal)
	}
	if global != 850 {
		t.Errorf("global pool after covering 150 shortfall = %d, want 850", global)
	}
}

func TestDrawReturnsUnabsorbedShortfallWhenBothFundsExhausted(t *testing.T) {
	f := New()
	f.Contribute("BTC-USD", 10)
	f.ContributeGlobal(10)

	drawn, shortfall := f.Draw("BTC-USD", 100)
	if drawn != 20 {
		t.Errorf("drawn = %d, want 20 (both funds exhausted)", drawn)
	}
	if shortfall != 80 {
		t.Errorf("shortfall = %d, want 80 for ADL to absorb", shortfall)
	}
}

func TestDrawNonPositiveNeedIsNoOp(t *testing.T) {
	f := New()
	f.Contribute("BTC-USD", 100)
	drawn, shortfall := f.Draw("BTC-USD", 0)
	if drawn != 0 || shortfall != 0 {
		t.Errorf("Draw(0) = %d/%d, want 0/0", drawn, shortfall)
	}
}

func TestTotalsTrackContributionsAndPayouts(t *testing.T) {
	f := New()
	f.Contribute("BTC-USD", 100)
	f.ContributeGlobal(50)
	f.Draw("BTC-USD", 30)

	contributions, payouts := f.Totals()
	if contributions != 150 {
		t.Errorf("total contributions = %d, want 150", contributions)
	}
	if payouts != 30 {
		t.Errorf("total payouts = %d, want 30", payouts)
	}
}
