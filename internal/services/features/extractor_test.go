package features

import (
	"math"
	"testing"
)

func TestComputeReturnsAligned(t *testing.T) {
	got := ComputeReturns([]float64{100, 110, 0, 5})
	want := []float64{0, 0.1, -1, 0}
	if len(got) != len(want) {
		t.Fatalf("len %d", len(got))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("idx %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestFractionalReturnZeroPrev(t *testing.T) {
	if v := FractionalReturn(0, 5); v != 0 {
		t.Fatalf("expected 0, got %v", v)
	}
}

func TestAnnualizedSharpeFlat(t *testing.T) {
	if v := AnnualizedSharpe(0, 0, BarsPerYearForTF("1m")); v != 0 {
		t.Fatalf("expected 0, got %v", v)
	}
}
