// Package risk implements the deterministic loan risk decision engine.
//
// An evaluation is a pure function of the applicant's factor values and a
// risk configuration: identical inputs against the same configuration version
// always reproduce an identical score, category, and verdict. Each configured
// factor is normalized to a sub-score in [0,1], weighted, and folded into a
// 0-100 score together with a signed per-factor contribution for
// explainability.
package risk

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/loanguard/loanguard/internal/model"
)

// Configuration failures abort the evaluation; the engine never substitutes
// defaults for a broken or missing configuration.
var (
	ErrNoActiveConfig    = errors.New("risk: no active configuration")
	ErrIncompleteWeights = errors.New("risk: configuration weights are incomplete")
)

// MissingFactorError reports an applicant input absent for a configured factor.
type MissingFactorError struct {
	Factor string
}

func (e *MissingFactorError) Error() string {
	return fmt.Sprintf("risk: missing applicant value for factor %q", e.Factor)
}

// NoteBelowFloor marks a score that fell under the lowest configured
// threshold. Policy: anything below the floor is high risk, never an
// undefined category.
const NoteBelowFloor = "BELOW_FLOOR"

// normalizers maps factor names to their monotonic [0,1] mapping. Higher
// sub-score always means lower risk; decreasing factors invert inside the
// rule.
var normalizers = map[string]func(float64) float64{
	"dscr":                func(v float64) float64 { return clamp01(v / 2.0) },
	"years_experience":    func(v float64) float64 { return clamp01(v / 10.0) },
	"collateral_ratio":    func(v float64) float64 { return clamp01(v / 0.25) },
	"credit_score":        func(v float64) float64 { return clamp01((v - 300.0) / 550.0) },
	"existing_debt_ratio": func(v float64) float64 { return 1.0 - clamp01(v) },
}

// KnownFactor reports whether the engine has a normalization rule for name.
func KnownFactor(name string) bool {
	_, ok := normalizers[name]
	return ok
}

// ValidateConfig checks that a configuration can actually drive an
// evaluation: non-empty positive weights over known factors, and strictly
// descending category thresholds.
func ValidateConfig(cfg *model.RiskConfiguration) error {
	if cfg == nil {
		return ErrNoActiveConfig
	}
	if len(cfg.Weights) == 0 {
		return ErrIncompleteWeights
	}
	total := 0.0
	seen := make(map[string]struct{}, len(cfg.Weights))
	for _, fw := range cfg.Weights {
		if !KnownFactor(fw.Factor) {
			return fmt.Errorf("%w: unknown factor %q", ErrIncompleteWeights, fw.Factor)
		}
		if fw.Weight <= 0 {
			return fmt.Errorf("%w: non-positive weight for %q", ErrIncompleteWeights, fw.Factor)
		}
		if _, dup := seen[fw.Factor]; dup {
			return fmt.Errorf("%w: duplicate factor %q", ErrIncompleteWeights, fw.Factor)
		}
		seen[fw.Factor] = struct{}{}
		total += fw.Weight
	}
	if total <= 0 {
		return ErrIncompleteWeights
	}
	if !(cfg.ThresholdLowRisk > cfg.ThresholdMediumRisk && cfg.ThresholdMediumRisk > cfg.ThresholdHighRisk) {
		return fmt.Errorf("%w: thresholds must be strictly descending", ErrIncompleteWeights)
	}
	return nil
}

// Evaluate scores the applicant factors against cfg and returns a fully
// populated assessment (id, application linkage, and persistence are the
// caller's concern). The configuration version is pinned on the result so the
// run can be reproduced.
func Evaluate(factors map[string]float64, cfg *model.RiskConfiguration, now time.Time) (*model.RiskAssessment, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	totalWeight := 0.0
	for _, fw := range cfg.Weights {
		totalWeight += fw.Weight
	}

	contributions := make([]model.FactorContribution, 0, len(cfg.Weights))
	score := 50.0
	for _, fw := range cfg.Weights {
		raw, ok := factors[fw.Factor]
		if !ok {
			return nil, &MissingFactorError{Factor: fw.Factor}
		}
		sub := normalizers[fw.Factor](raw)
		// Signed deviation from the 50-point neutral baseline; summing
		// these equals the weighted mean scaled to [0,100].
		contribution := round2(100.0 * fw.Weight * (sub - 0.5) / totalWeight)
		score += contribution
		contributions = append(contributions, model.FactorContribution{
			Factor:       fw.Factor,
			RawValue:     raw,
			SubScore:     round2(sub),
			Weight:       fw.Weight,
			Contribution: contribution,
			Note:         factorNote(fw.Factor, sub),
		})
	}
	score = round2(clampScore(score))

	category, notes := classify(score, cfg)
	verdict := decide(score, cfg)

	return &model.RiskAssessment{
		Score:               score,
		Category:            category,
		Verdict:             verdict,
		Factors:             contributions,
		Notes:               notes,
		Confidence:          confidence(score, cfg),
		ConfigVersion:       cfg.Version,
		HumanReviewRequired: verdict == model.VerdictHumanReview,
		CreatedAt:           now.UTC(),
	}, nil
}

// classify maps a score onto the configured categories. Boundaries are
// inclusive: a score exactly equal to a threshold takes that category.
func classify(score float64, cfg *model.RiskConfiguration) (model.RiskCategory, []string) {
	switch {
	case score >= cfg.ThresholdLowRisk:
		return model.RiskCategoryLow, nil
	case score >= cfg.ThresholdMediumRisk:
		return model.RiskCategoryMedium, nil
	case score >= cfg.ThresholdHighRisk:
		return model.RiskCategoryHigh, nil
	default:
		return model.RiskCategoryHigh, []string{NoteBelowFloor}
	}
}

// decide produces the verdict. A configuration requiring human review
// overrides the score entirely.
func decide(score float64, cfg *model.RiskConfiguration) model.Verdict {
	if cfg.RequireHumanReview {
		return model.VerdictHumanReview
	}
	switch {
	case score >= cfg.AutoApproveThreshold:
		return model.VerdictAutoApprove
	case score <= cfg.AutoRejectThreshold:
		return model.VerdictAutoReject
	default:
		return model.VerdictHumanReview
	}
}

// confidence is a deterministic function of how close the score sits to a
// category boundary: borderline scores get a lower confidence so reviewers
// look harder at them.
func confidence(score float64, cfg *model.RiskConfiguration) float64 {
	dist := math.MaxFloat64
	for _, t := range []float64{cfg.ThresholdLowRisk, cfg.ThresholdMediumRisk, cfg.ThresholdHighRisk} {
		if d := math.Abs(score - t); d < dist {
			dist = d
		}
	}
	if dist < 3.0 {
		return 0.75
	}
	return 0.95
}

func factorNote(factor string, sub float64) string {
	var grade string
	switch {
	case sub >= 0.75:
		grade = "strong"
	case sub >= 0.5:
		grade = "adequate"
	case sub >= 0.25:
		grade = "weak"
	default:
		grade = "poor"
	}
	return fmt.Sprintf("%s signal for %s", grade, factor)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
