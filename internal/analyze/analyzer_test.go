package analyze

import (
	"context"
	"errors"
	"testing"

	"callaudit/pkg/domain"
)

type stubGenerator struct {
	reply string
	err   error
}

func (s stubGenerator) GenerateText(context.Context, string, string) (string, error) {
	return s.reply, s.err
}

const modelReply = "Here is the evaluation you asked for:\n```json\n" + `{
  "scores": {
    "communication": 8,
    "empathy": 9,
    "professionalism": 7,
    "problemResolution": 12,
    "dpaVerification": 6,
    "coolingOffDisclosure": null,
    "pricingTransparency": null,
    "regulatoryWording": null
  },
  "keyMoments": [
    {"timestampSeconds": 50, "polarity": "positive", "dimension": "empathy",
     "description": "Agent acknowledged frustration",
     "quote": "understand how frustrating that must be"},
    {"timestampSeconds": 50, "polarity": "sideways", "dimension": "empathy",
     "description": "Invented", "quote": "phrase that appears nowhere whatsoever honestly"}
  ],
  "complianceIssues": [
    {"severity": "chartreuse", "dimension": "dpaVerification",
     "description": "Verification done late"}
  ],
  "coaching": ["Verify identity before account details"],
  "summary": "Customer frustrated about a recurring fault; agent empathetic.",
  "outcome": {"resolved": true, "escalated": false, "followUpRequired": true, "customerSentiment": "mixed"}
}` + "\n```"

func testTranscript() domain.Transcript {
	return domain.Transcript{
		CallID: "call-9",
		Turns: []domain.Turn{
			{Speaker: domain.SpeakerAgent, Text: "I completely understand how frustrating that must be for you", TimestampSeconds: 45},
		},
		DurationSeconds: 90,
	}
}

func TestAnalyzeParsesAndValidates(t *testing.T) {
	a := New(stubGenerator{reply: modelReply}, nil)

	got, err := a.Analyze(context.Background(), testTranscript())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.CallID != "call-9" {
		t.Fatalf("call id = %q", got.CallID)
	}
	// 12 clamps to 10.
	if got.Scores.ProblemResolution != 10 {
		t.Fatalf("problemResolution = %v, want clamped 10", got.Scores.ProblemResolution)
	}
	if got.Scores.CoolingOffDisclosure != nil {
		t.Fatalf("null dimension must stay nil")
	}
	if got.Scores.DPAVerification == nil || *got.Scores.DPAVerification != 6 {
		t.Fatalf("dpaVerification = %v", got.Scores.DPAVerification)
	}
	// overall = (8+9+7+10+6)/5
	if got.OverallScore != 8 {
		t.Fatalf("overallScore = %v, want 8", got.OverallScore)
	}
	// Hallucinated moment dropped, verified one timestamp-corrected.
	if len(got.KeyMoments) != 1 {
		t.Fatalf("keyMoments = %d, want 1", len(got.KeyMoments))
	}
	if got.KeyMoments[0].TimestampSeconds != 45 {
		t.Fatalf("moment timestamp = %v, want 45", got.KeyMoments[0].TimestampSeconds)
	}
	// Unknown severity falls back to low.
	if got.ComplianceIssues[0].Severity != domain.SeverityLow {
		t.Fatalf("severity = %q, want low", got.ComplianceIssues[0].Severity)
	}
	if got.Outcome.CustomerSentiment != "mixed" || !got.Outcome.FollowUpRequired {
		t.Fatalf("outcome lost: %+v", got.Outcome)
	}
	if got.ProcessingTimeMs < 0 {
		t.Fatalf("processingTimeMs = %d", got.ProcessingTimeMs)
	}
}

func TestAnalyzeGeneratorError(t *testing.T) {
	a := New(stubGenerator{err: errors.New("rate limited")}, nil)
	_, err := a.Analyze(context.Background(), testTranscript())
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
}

func TestAnalyzeRejectsGarbageOutput(t *testing.T) {
	a := New(stubGenerator{reply: "I'm sorry, I cannot score this call."}, nil)
	_, err := a.Analyze(context.Background(), testTranscript())
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
}

func TestAnalyzeEmptyTranscript(t *testing.T) {
	a := New(stubGenerator{reply: modelReply}, nil)
	_, err := a.Analyze(context.Background(), domain.Transcript{CallID: "x"})
	if !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("err = %v, want ErrNoTranscript", err)
	}
}

func TestParseAnalysisUnbalancedJSON(t *testing.T) {
	if _, err := parseAnalysis("{ definitely not json"); err == nil {
		t.Fatalf("expected parse failure")
	}
}
