package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/loanguard/loanguard/internal/model"
)

func baseConfig() *model.RiskConfiguration {
	return &model.RiskConfiguration{
		Version: 1,
		Weights: []model.FactorWeight{
			{Factor: "dscr", Weight: 0.35},
			{Factor: "years_experience", Weight: 0.35},
			{Factor: "collateral_ratio", Weight: 0.30},
		},
		ThresholdLowRisk:     80,
		ThresholdMediumRisk:  60,
		ThresholdHighRisk:    40,
		AutoApproveThreshold: 80,
		AutoRejectThreshold:  40,
	}
}

func singleFactorConfig() *model.RiskConfiguration {
	cfg := baseConfig()
	cfg.Weights = []model.FactorWeight{{Factor: "dscr", Weight: 1.0}}
	return cfg
}

func TestEvaluateReferenceScenario(t *testing.T) {
	factors := map[string]float64{
		"dscr":             1.4,
		"years_experience": 5,
		"collateral_ratio": 0.25,
	}

	assessment, err := Evaluate(factors, baseConfig(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if assessment.Score != 72.0 {
		t.Fatalf("expected score 72.0, got %v", assessment.Score)
	}
	if assessment.Category != model.RiskCategoryMedium {
		t.Fatalf("expected medium category, got %s", assessment.Category)
	}
	if assessment.Verdict != model.VerdictHumanReview {
		t.Fatalf("expected human_review verdict, got %s", assessment.Verdict)
	}
	if !assessment.HumanReviewRequired {
		t.Fatalf("expected human review to be required")
	}
	if assessment.ConfigVersion != 1 {
		t.Fatalf("expected pinned config version 1, got %d", assessment.ConfigVersion)
	}
	if assessment.Confidence != 0.95 {
		t.Fatalf("expected confidence 0.95, got %v", assessment.Confidence)
	}
	if len(assessment.Factors) != 3 {
		t.Fatalf("expected 3 factor contributions, got %d", len(assessment.Factors))
	}

	// Contributions are signed deviations and sum to score-50
	wantContributions := map[string]float64{
		"dscr":             7.0,
		"years_experience": 0.0,
		"collateral_ratio": 15.0,
	}
	for _, fc := range assessment.Factors {
		if want := wantContributions[fc.Factor]; fc.Contribution != want {
			t.Fatalf("factor %s: expected contribution %v, got %v", fc.Factor, want, fc.Contribution)
		}
	}
}

func TestEvaluateDeterminism(t *testing.T) {
	factors := map[string]float64{
		"dscr":             1.13,
		"years_experience": 7.5,
		"collateral_ratio": 0.19,
	}
	cfg := baseConfig()

	first, err := Evaluate(factors, cfg, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 100; i++ {
		next, err := Evaluate(factors, cfg, time.Now())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if next.Score != first.Score || next.Category != first.Category || next.Verdict != first.Verdict {
			t.Fatalf("run %d diverged: %v/%s/%s vs %v/%s/%s", i,
				next.Score, next.Category, next.Verdict, first.Score, first.Category, first.Verdict)
		}
	}
}

func TestClassifyBoundariesInclusive(t *testing.T) {
	// A single dscr factor makes score = 100 * subScore = 50 * value
	tests := []struct {
		name     string
		dscr     float64
		score    float64
		category model.RiskCategory
		verdict  model.Verdict
	}{
		{"exactly low threshold", 1.6, 80, model.RiskCategoryLow, model.VerdictAutoApprove},
		{"just below low", 1.58, 79, model.RiskCategoryMedium, model.VerdictHumanReview},
		{"exactly medium threshold", 1.2, 60, model.RiskCategoryMedium, model.VerdictHumanReview},
		{"exactly high threshold", 0.8, 40, model.RiskCategoryHigh, model.VerdictAutoReject},
		{"below floor", 0.6, 30, model.RiskCategoryHigh, model.VerdictAutoReject},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assessment, err := Evaluate(map[string]float64{"dscr": tc.dscr}, singleFactorConfig(), time.Now())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if assessment.Score != tc.score {
				t.Fatalf("expected score %v, got %v", tc.score, assessment.Score)
			}
			if assessment.Category != tc.category {
				t.Fatalf("expected category %s, got %s", tc.category, assessment.Category)
			}
			if assessment.Verdict != tc.verdict {
				t.Fatalf("expected verdict %s, got %s", tc.verdict, assessment.Verdict)
			}
		})
	}
}

func TestBelowFloorNote(t *testing.T) {
	assessment, err := Evaluate(map[string]float64{"dscr": 0.5}, singleFactorConfig(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assessment.Category != model.RiskCategoryHigh {
		t.Fatalf("expected high category below floor, got %s", assessment.Category)
	}
	found := false
	for _, note := range assessment.Notes {
		if note == NoteBelowFloor {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s note, got %v", NoteBelowFloor, assessment.Notes)
	}

	// At or above the floor there is no note
	assessment, err = Evaluate(map[string]float64{"dscr": 0.8}, singleFactorConfig(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assessment.Notes) != 0 {
		t.Fatalf("expected no notes at the floor, got %v", assessment.Notes)
	}
}

func TestRequireHumanReviewOverridesVerdict(t *testing.T) {
	cfg := singleFactorConfig()
	cfg.RequireHumanReview = true

	assessment, err := Evaluate(map[string]float64{"dscr": 2.0}, cfg, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assessment.Score != 100 {
		t.Fatalf("expected score 100, got %v", assessment.Score)
	}
	if assessment.Verdict != model.VerdictHumanReview {
		t.Fatalf("expected human_review override, got %s", assessment.Verdict)
	}
}

func TestBorderlineConfidence(t *testing.T) {
	// 1.22 scores 61, one point from the medium threshold
	assessment, err := Evaluate(map[string]float64{"dscr": 1.22}, singleFactorConfig(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assessment.Score != 61 {
		t.Fatalf("expected score 61, got %v", assessment.Score)
	}
	if assessment.Confidence != 0.75 {
		t.Fatalf("expected borderline confidence 0.75, got %v", assessment.Confidence)
	}
}

func TestMissingFactor(t *testing.T) {
	_, err := Evaluate(map[string]float64{"dscr": 1.4}, baseConfig(), time.Now())
	var missing *MissingFactorError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFactorError, got %v", err)
	}
	if missing.Factor != "years_experience" {
		t.Fatalf("expected years_experience missing, got %s", missing.Factor)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.RiskConfiguration)
	}{
		{"no weights", func(c *model.RiskConfiguration) { c.Weights = nil }},
		{"unknown factor", func(c *model.RiskConfiguration) {
			c.Weights = append(c.Weights, model.FactorWeight{Factor: "astrology", Weight: 0.1})
		}},
		{"non-positive weight", func(c *model.RiskConfiguration) { c.Weights[0].Weight = 0 }},
		{"duplicate factor", func(c *model.RiskConfiguration) {
			c.Weights = append(c.Weights, model.FactorWeight{Factor: "dscr", Weight: 0.1})
		}},
		{"non-descending thresholds", func(c *model.RiskConfiguration) { c.ThresholdMediumRisk = 80 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !errors.Is(err, ErrIncompleteWeights) {
				t.Fatalf("expected ErrIncompleteWeights, got %v", err)
			}
		})
	}

	if err := ValidateConfig(nil); !errors.Is(err, ErrNoActiveConfig) {
		t.Fatalf("expected ErrNoActiveConfig for nil config, got %v", err)
	}
	if err := ValidateConfig(baseConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
