package domain

import "testing"

func TestStepCanTransition(t *testing.T) {
	cases := []struct {
		from, to Step
		want     bool
	}{
		{StepSummary, StepAddress, true},
		{StepSummary, StepPayment, false},
		{StepAddress, StepPayment, true},
		{StepAddress, StepSummary, true},
		{StepPayment, StepAddress, true},
		{StepPayment, StepSubmitted, true},
		{StepPayment, StepSummary, false},
		{StepSummary, StepClosed, true},
		{StepAddress, StepClosed, true},
		{StepPayment, StepClosed, true},
		{StepSubmitted, StepClosed, false},
		{StepClosed, StepSummary, false},
		{StepClosed, StepAddress, false},
		{StepClosed, StepClosed, false},
		{StepSubmitted, StepPayment, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStepNextPrev(t *testing.T) {
	if next, ok := StepSummary.Next(); !ok || next != StepAddress {
		t.Fatalf("summary.Next() = %s, %v", next, ok)
	}
	if next, ok := StepAddress.Next(); !ok || next != StepPayment {
		t.Fatalf("address.Next() = %s, %v", next, ok)
	}
	if _, ok := StepPayment.Next(); ok {
		t.Fatal("payment has no forward step; submit is its own action")
	}

	if prev, ok := StepPayment.Prev(); !ok || prev != StepAddress {
		t.Fatalf("payment.Prev() = %s, %v", prev, ok)
	}
	if prev, ok := StepAddress.Prev(); !ok || prev != StepSummary {
		t.Fatalf("address.Prev() = %s, %v", prev, ok)
	}
	if _, ok := StepSummary.Prev(); ok {
		t.Fatal("summary has no backward step")
	}
}

func TestStepTerminal(t *testing.T) {
	for _, s := range []Step{StepSummary, StepAddress, StepPayment} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []Step{StepSubmitted, StepClosed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestStepValid(t *testing.T) {
	if Step("shipping").Valid() {
		t.Fatal("unknown step must be invalid")
	}
	if !StepPayment.Valid() {
		t.Fatal("payment must be valid")
	}
}
