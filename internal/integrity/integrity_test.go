package integrity

import "testing"

func TestFromRatio(t *testing.T) {
	tests := []struct {
		flagged, total int
		want           float64
	}{
		{0, 10, 100},
		{1, 4, 75},
		{2, 3, 33.33},
		{5, 3, 0},
		{3, 0, 100},
	}
	for _, tt := range tests {
		if got := FromRatio(tt.flagged, tt.total); got != tt.want {
			t.Fatalf("FromRatio(%d, %d) = %v, want %v", tt.flagged, tt.total, got, tt.want)
		}
	}
}

func TestCombineRenormalisesWeights(t *testing.T) {
	cfg := DefaultConfig()

	summary := Combine(cfg, map[string]float64{
		GhostHunter: 60,
		PriceGuard:  100,
		"unknown":   0,
	})

	// (60*0.35 + 100*0.20) / 0.55
	if summary.Score != 74.55 {
		t.Fatalf("unexpected score %v", summary.Score)
	}
	if summary.Verdict != VerdictModerate {
		t.Fatalf("unexpected verdict %q", summary.Verdict)
	}
	if len(summary.Components) != 2 {
		t.Fatalf("expected unknown analyzer to be ignored, got %+v", summary.Components)
	}
}

func TestCombineVerdicts(t *testing.T) {
	cfg := DefaultConfig()

	if got := Combine(cfg, nil); got.Score != 100 || got.Verdict != VerdictClean {
		t.Fatalf("expected clean empty summary, got %+v", got)
	}

	low := Combine(cfg, map[string]float64{TenderWatch: 50, WelfareShield: 120})
	// welfare clamps to 100: (50*0.30 + 100*0.15) / 0.45
	if low.Score != 66.67 || low.Verdict != VerdictHighRisk {
		t.Fatalf("unexpected low summary %+v", low)
	}
}

func TestStatus(t *testing.T) {
	if Status(0) != StatusClear || Status(2) != StatusWarning {
		t.Fatal("unexpected status mapping")
	}
}
