package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCompute(t *testing.T) {
	cases := []struct {
		name        string
		product     string
		content     string
		wantDiff    string
		wantPercent string
		balanced    bool
	}{
		{name: "within tolerance", product: "100", content: "105", wantDiff: "5", wantPercent: "5", balanced: true},
		{name: "content far above product", product: "100", content: "150", wantDiff: "50", wantPercent: "50", balanced: false},
		{name: "exactly ten percent is not balanced", product: "100", content: "90", wantDiff: "-10", wantPercent: "-10", balanced: false},
		{name: "just under ten percent", product: "100", content: "90.01", wantDiff: "-9.99", wantPercent: "-9.99", balanced: true},
		{name: "zero product", product: "0", content: "20", wantDiff: "20", wantPercent: "0", balanced: false},
		{name: "fractional percent", product: "300", content: "310", wantDiff: "10", wantPercent: "3.33", balanced: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Compute(decimal.RequireFromString(tc.product), decimal.RequireFromString(tc.content))
			if !got.Difference.Equal(decimal.RequireFromString(tc.wantDiff)) {
				t.Fatalf("difference: want %s got %s", tc.wantDiff, got.Difference)
			}
			if !got.DifferencePercent.Equal(decimal.RequireFromString(tc.wantPercent)) {
				t.Fatalf("percent: want %s got %s", tc.wantPercent, got.DifferencePercent)
			}
			if got.IsBalanced != tc.balanced {
				t.Fatalf("balanced: want %v got %v", tc.balanced, got.IsBalanced)
			}
		})
	}
}
