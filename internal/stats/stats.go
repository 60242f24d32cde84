// Package stats computes A/B test results: per-variant conversion rates,
// normal-approximation confidence intervals, a two-proportion z-test and the
// resulting recommendation.
//
// Every function here is pure. Callers aggregate interaction counts and pass
// them in; nothing is read from storage.
package stats

import (
	"math"
	"time"
)

const (
	// MinViewsForSignificance is the per-variant view count below which the
	// z-test is never considered reliable.
	MinViewsForSignificance = 30

	// SignificanceAlpha is the two-tailed p-value threshold.
	SignificanceAlpha = 0.05

	// ExtendConfidenceThreshold is the confidence (percent) at or above which an
	// inconclusive test is worth extending instead of stopping.
	ExtendConfidenceThreshold = 80.0
)

// Recommendation is the suggested next step for a running test.
type Recommendation string

const (
	RecommendContinue         Recommendation = "continue"
	RecommendStopWinner       Recommendation = "stop_winner"
	RecommendStopInconclusive Recommendation = "stop_inconclusive"
	RecommendExtendTest       Recommendation = "extend_test"
)

// Counts is the aggregated interaction log of one variant.
type Counts struct {
	VariantID   string
	Name        string
	IsControl   bool
	Views       int64
	Conversions int64
}

// Rate returns conversions per view as a fraction, 0 when there are no views.
func (c Counts) Rate() float64 {
	if c.Views <= 0 {
		return 0
	}
	return float64(c.Conversions) / float64(c.Views)
}

// Interval is a confidence interval in percent.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// VariantResult holds the computed metrics of one variant.
type VariantResult struct {
	VariantID          string   `json:"variantId"`
	Name               string   `json:"name"`
	IsControl          bool     `json:"isControl"`
	Views              int64    `json:"views"`
	Conversions        int64    `json:"conversions"`
	ConversionRate     float64  `json:"conversionRate"`
	ConfidenceInterval Interval `json:"confidenceInterval"`
	SampleSizeReached  bool     `json:"sampleSizeReached"`
}

// Significance is the outcome of the two-proportion z-test.
type Significance struct {
	Reached    bool    `json:"reached"`
	ZScore     float64 `json:"zScore"`
	PValue     float64 `json:"pValue"`
	Confidence float64 `json:"confidence"`
}

// Winner is the variant that beat control.
type Winner struct {
	VariantID          string  `json:"variantId"`
	Name               string  `json:"name"`
	ConversionRate     float64 `json:"conversionRate"`
	ImprovementPercent float64 `json:"improvementPercent"`
	Confidence         float64 `json:"confidence"`
}

// Results is a derived snapshot of a test. It can be recomputed at any time.
type Results struct {
	TestID           string          `json:"testId"`
	Variants         []VariantResult `json:"variants"`
	TotalViews       int64           `json:"totalViews"`
	TotalConversions int64           `json:"totalConversions"`
	Significance     Significance    `json:"significance"`
	Winner           *Winner         `json:"winner,omitempty"`
	Recommendation   Recommendation  `json:"recommendation"`
	LastCalculated   time.Time       `json:"lastCalculated"`
}

// Settings are the test parameters that shape the analysis.
type Settings struct {
	// ConfidenceLevel is 90, 95 or 99. Anything else is treated as 95.
	ConfidenceLevel int
	MinSampleSize   int64
}

// ZScore returns the two-tailed critical value for a confidence level.
func ZScore(confidenceLevel int) float64 {
	switch confidenceLevel {
	case 99:
		return 2.58
	case 90:
		return 1.64
	default:
		return 1.96
	}
}

// ConfidenceInterval returns the normal-approximation interval for a
// conversion rate, in percent and clamped to [0, 100]. Zero trials yield [0, 0].
func ConfidenceInterval(conversions, views int64, confidenceLevel int) Interval {
	if views <= 0 {
		return Interval{}
	}
	p := float64(conversions) / float64(views)
	margin := ZScore(confidenceLevel) * math.Sqrt(p*(1-p)/float64(views))
	return Interval{
		Lower: clamp(p-margin, 0, 1) * 100,
		Upper: clamp(p+margin, 0, 1) * 100,
	}
}

// TwoProportionZTest compares the conversion rates of control and variant.
// Either side below MinViewsForSignificance views is never significant.
func TwoProportionZTest(control, variant Counts) Significance {
	if control.Views < MinViewsForSignificance || variant.Views < MinViewsForSignificance {
		return Significance{PValue: 1}
	}

	n1, n2 := float64(control.Views), float64(variant.Views)
	p1, p2 := control.Rate(), variant.Rate()

	pooled := (n1*p1 + n2*p2) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 || math.IsNaN(se) {
		// Both rates are 0% or both 100%: no observable difference.
		return Significance{PValue: 1}
	}

	z := math.Abs(p2-p1) / se
	pValue := 2 * (1 - NormalCDF(z))
	return Significance{
		Reached:    pValue < SignificanceAlpha,
		ZScore:     z,
		PValue:     pValue,
		Confidence: (1 - pValue) * 100,
	}
}

// SignificanceOf runs the z-test for a two-variant test. It requires exactly
// one control and one challenger; any other shape is reported as not reached.
func SignificanceOf(variants []Counts) Significance {
	if len(variants) != 2 {
		return Significance{PValue: 1}
	}
	control, challenger := variants[0], variants[1]
	if !control.IsControl {
		control, challenger = challenger, control
	}
	if !control.IsControl || challenger.IsControl {
		return Significance{PValue: 1}
	}
	return TwoProportionZTest(control, challenger)
}

// Calculate builds the full results snapshot for a test. It returns nil when
// there is nothing to analyze: no variants, or no recorded interactions.
func Calculate(testID string, variants []Counts, settings Settings, now time.Time) *Results {
	var totalViews, totalConversions int64
	for _, v := range variants {
		totalViews += v.Views
		totalConversions += v.Conversions
	}
	if len(variants) == 0 || totalViews+totalConversions == 0 {
		return nil
	}

	res := &Results{
		TestID:           testID,
		Variants:         make([]VariantResult, 0, len(variants)),
		TotalViews:       totalViews,
		TotalConversions: totalConversions,
		LastCalculated:   now,
	}

	allReached := true
	for _, v := range variants {
		reached := v.Views >= settings.MinSampleSize
		allReached = allReached && reached
		res.Variants = append(res.Variants, VariantResult{
			VariantID:          v.VariantID,
			Name:               v.Name,
			IsControl:          v.IsControl,
			Views:              v.Views,
			Conversions:        v.Conversions,
			ConversionRate:     v.Rate() * 100,
			ConfidenceInterval: ConfidenceInterval(v.Conversions, v.Views, settings.ConfidenceLevel),
			SampleSizeReached:  reached,
		})
	}

	res.Significance = SignificanceOf(variants)
	if res.Significance.Reached && allReached {
		res.Winner = pickWinner(res.Variants, res.Significance)
	}
	res.Recommendation = Recommend(len(variants), allReached, res.Significance)

	return res
}

// pickWinner returns the best non-control variant if it strictly beats control.
func pickWinner(variants []VariantResult, sig Significance) *Winner {
	var control, best *VariantResult
	for i := range variants {
		v := &variants[i]
		if v.IsControl {
			if control == nil {
				control = v
			}
			continue
		}
		if best == nil || v.ConversionRate > best.ConversionRate {
			best = v
		}
	}
	if control == nil || best == nil || best.ConversionRate <= control.ConversionRate {
		return nil
	}

	w := &Winner{
		VariantID:      best.VariantID,
		Name:           best.Name,
		ConversionRate: best.ConversionRate,
		Confidence:     sig.Confidence,
	}
	// A 0% control has no finite relative lift; report 0 rather than +Inf.
	if control.ConversionRate > 0 {
		w.ImprovementPercent = (best.ConversionRate - control.ConversionRate) / control.ConversionRate * 100
	}
	return w
}

// Recommend maps the state of a test to the next step.
func Recommend(variantCount int, sampleSizeReached bool, sig Significance) Recommendation {
	switch {
	case variantCount < 2:
		return RecommendStopInconclusive
	case !sampleSizeReached:
		return RecommendContinue
	case sig.Reached:
		return RecommendStopWinner
	case sig.Confidence >= ExtendConfidenceThreshold:
		return RecommendExtendTest
	default:
		return RecommendStopInconclusive
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
