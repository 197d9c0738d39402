package verrors

import (
	"errors"
	"testing"
)

func TestConstructorsSetExpectedKind(t *testing.T) {
	cases := []struct {
		err  *Error
		kind Kind
	}{
		{Validation("c", "m"), KindValidation},
		{State("c", "m"), KindState},
		{Policy("c", "m"), KindPolicy},
		{Resource("c", "m"), KindResource},
		{Invariant("c", "m"), KindInvariant},
	}
	for _, tc := range cases {
		if tc.err.Kind != tc.kind {
			t.Errorf("%s constructor produced Kind %v, want %v", tc.kind, tc.err.Kind, tc.kind)
		}
	}
}

func TestErrorStringIncludesKindCodeAndMessage(t *testing.T) {
	err := Validation("bad_nonce", "nonce already used")
	got := err.Error()
	want := "validation: bad_nonce: nonce already used"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorStringOmitsMessageWhenEmpty(t *testing.T) {
	err := New(KindState, "pair_not_active", "")
	if got := err.Error(); got != "state: pair_not_active" {
		t.Errorf("Error() = %q, want %q", got, "state: pair_not_active")
	}
}

func TestIsMatchesOnlyTheGivenKind(t *testing.T) {
	err := Policy("fok_unfillable", "order cannot be filled in full")
	if !Is(err, KindPolicy) {
		t.Errorf("Is(err, KindPolicy) = false, want true")
	}
	if Is(err, KindValidation) {
		t.Errorf("Is(err, KindValidation) = true, want false")
	}
}

func TestIsFalseForNonVerrorsError(t *testing.T) {
	if Is(errors.New("plain error"), KindValidation) {
		t.Errorf("Is on a plain error returned true")
	}
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindResource, "ledger_unreachable", cause)
	if err.Kind != KindResource {
		t.Errorf("Wrap kind = %v, want KindResource", err.Kind)
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is did not unwrap to the original cause")
	}
	if err.Message != cause.Error() {
		t.Errorf("Wrap message = %q, want cause text %q", err.Message, cause.Error())
	}
}

func TestWrapNilCauseLeavesMessageEmpty(t *testing.T) {
	err := Wrap(KindInvariant, "impossible", nil)
	if err.Message != "" {
		t.Errorf("Wrap(nil cause) message = %q, want empty", err.Message)
	}
}
