package analyze

import (
	"encoding/json"
	"fmt"
	"strings"

	"callaudit/pkg/domain"
)

// llmAnalysis mirrors the JSON the model is asked to produce. Scores are
// pointers so "null" (dimension not applicable) survives decoding.
type llmAnalysis struct {
	Scores struct {
		Communication        *float64 `json:"communication"`
		Empathy              *float64 `json:"empathy"`
		Professionalism      *float64 `json:"professionalism"`
		ProblemResolution    *float64 `json:"problemResolution"`
		DPAVerification      *float64 `json:"dpaVerification"`
		CoolingOffDisclosure *float64 `json:"coolingOffDisclosure"`
		PricingTransparency  *float64 `json:"pricingTransparency"`
		RegulatoryWording    *float64 `json:"regulatoryWording"`
	} `json:"scores"`
	KeyMoments       []domain.KeyMoment       `json:"keyMoments"`
	ComplianceIssues []domain.ComplianceIssue `json:"complianceIssues"`
	Coaching         []string                 `json:"coaching"`
	Summary          string                   `json:"summary"`
	Outcome          domain.Outcome           `json:"outcome"`
}

// parseAnalysis extracts the structured evaluation from free-form model
// text. Models wrap JSON in prose or markdown fences often enough that the
// parser cuts from the first '{' to the last '}' before decoding.
func parseAnalysis(raw string) (domain.Analysis, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return domain.Analysis{}, err
	}

	var parsed llmAnalysis
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return domain.Analysis{}, fmt.Errorf("decode evaluation JSON: %w", err)
	}

	analysis := domain.Analysis{
		Scores: domain.DimensionScores{
			Communication:        clampScore(orZero(parsed.Scores.Communication)),
			Empathy:              clampScore(orZero(parsed.Scores.Empathy)),
			Professionalism:      clampScore(orZero(parsed.Scores.Professionalism)),
			ProblemResolution:    clampScore(orZero(parsed.Scores.ProblemResolution)),
			DPAVerification:      clampNullable(parsed.Scores.DPAVerification),
			CoolingOffDisclosure: clampNullable(parsed.Scores.CoolingOffDisclosure),
			PricingTransparency:  clampNullable(parsed.Scores.PricingTransparency),
			RegulatoryWording:    clampNullable(parsed.Scores.RegulatoryWording),
		},
		KeyMoments:       normalizeMoments(parsed.KeyMoments),
		ComplianceIssues: normalizeIssues(parsed.ComplianceIssues),
		Coaching:         parsed.Coaching,
		Summary:          strings.TrimSpace(parsed.Summary),
		Outcome:          parsed.Outcome,
	}
	analysis.OverallScore = overallScore(analysis.Scores)
	return analysis, nil
}

func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in model output")
	}
	return raw[start : end+1], nil
}

// overallScore averages every scored dimension, nullable ones included only
// when present.
func overallScore(s domain.DimensionScores) float64 {
	sum := s.Communication + s.Empathy + s.Professionalism + s.ProblemResolution
	n := 4
	for _, c := range s.ComplianceDimensions() {
		if c != nil {
			sum += *c
			n++
		}
	}
	return sum / float64(n)
}

func normalizeMoments(moments []domain.KeyMoment) []domain.KeyMoment {
	out := moments[:0]
	for _, m := range moments {
		m.Quote = strings.TrimSpace(m.Quote)
		m.Description = strings.TrimSpace(m.Description)
		switch m.Polarity {
		case domain.PolarityPositive, domain.PolarityNegative, domain.PolarityNeutral:
		default:
			m.Polarity = domain.PolarityNeutral
		}
		out = append(out, m)
	}
	return out
}

func normalizeIssues(issues []domain.ComplianceIssue) []domain.ComplianceIssue {
	out := issues[:0]
	for _, i := range issues {
		switch i.Severity {
		case domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow:
		default:
			i.Severity = domain.SeverityLow
		}
		out = append(out, i)
	}
	return out
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func clampNullable(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := clampScore(*v)
	return &c
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
