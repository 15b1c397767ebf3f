package torrentkit

import "testing"

func TestPriorityFromInt(t *testing.T) {
	cases := []struct {
		in   int
		want Priority
	}{
		{-128, PriorityLow},
		{-1, PriorityLow},
		{0, PriorityNormal},
		{1, PriorityHigh},
		{127, PriorityHigh},
	}
	for _, tc := range cases {
		if got := PriorityFromInt(tc.in); got != tc.want {
			t.Errorf("PriorityFromInt(%d) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestPriorityString(t *testing.T) {
	cases := []struct {
		p    Priority
		want string
	}{
		{PriorityLow, "low"},
		{PriorityNormal, "normal"},
		{PriorityHigh, "high"},
		{Priority(-7), "low"},
		{Priority(42), "high"},
	}
	for _, tc := range cases {
		if got := tc.p.String(); got != tc.want {
			t.Errorf("Priority(%d).String() = %q, want %q", int8(tc.p), got, tc.want)
		}
	}
}
