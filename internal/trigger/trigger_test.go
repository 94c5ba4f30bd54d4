package trigger

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestEvaluateStrictComparison(t *testing.T) {
	d := decimal.RequireFromString
	cases := []struct {
		price     string
		op        Operator
		threshold string
		want      bool
	}{
		{"3001", GT, "3000", true},
		{"3000", GT, "3000", false},
		{"2999", GT, "3000", false},
		{"2999", LT, "3000", true},
		{"3000", LT, "3000", false},
		{"3000.0000001", LT, "3000", false},
		{"3000.0000001", GT, "3000", true},
		{"1", Operator("EQ"), "1", false},
	}
	for _, tc := range cases {
		if got := Evaluate(d(tc.price), tc.op, d(tc.threshold)); got != tc.want {
			t.Fatalf("Evaluate(%s %s %s) = %v, want %v", tc.price, tc.op, tc.threshold, got, tc.want)
		}
	}
}

func TestEqualityNeverFires(t *testing.T) {
	for _, v := range []string{"0", "1.5", "-3", "99999999.123456789"} {
		p := decimal.RequireFromString(v)
		if Evaluate(p, GT, p) || Evaluate(p, LT, p) {
			t.Fatalf("boundary fired for %s", v)
		}
	}
}

func TestParseOperator(t *testing.T) {
	for in, want := range map[string]Operator{">": GT, "<": LT, "gt": GT, " LT ": LT} {
		got, err := ParseOperator(in)
		if err != nil || got != want {
			t.Fatalf("ParseOperator(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseOperator(">="); err == nil {
		t.Fatalf("expected error for >=")
	}
}

func TestConditionDecode(t *testing.T) {
	var c Condition
	if err := json.Unmarshal([]byte(`{"operator":">","threshold":3000}`), &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Operator != GT || !c.Threshold.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("unexpected condition %+v", c)
	}
	if !c.Met(decimal.NewFromInt(3001)) || c.Met(decimal.NewFromInt(3000)) {
		t.Fatalf("condition evaluated incorrectly")
	}
}
