// Package analyze scores a normalized transcript against the evaluation
// rubric using a language model, then verifies the model's cited quotes
// against the transcript before anything is persisted.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callaudit/pkg/ai"
	"callaudit/pkg/domain"
)

var (
	// ErrAnalysisFailed wraps language-model adapter failures. Terminal for
	// the call; the pipeline does not retry analysis automatically.
	ErrAnalysisFailed = errors.New("analysis failed")
	// ErrNoTranscript means there is nothing to score.
	ErrNoTranscript = errors.New("transcript has no turns")
)

// Analyzer drives the evaluation stage.
type Analyzer struct {
	gen    ai.TextGenerator
	logger *slog.Logger
}

// New builds an analyzer on top of a text generator.
func New(gen ai.TextGenerator, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{gen: gen, logger: logger}
}

// Analyze sends the transcript plus rubric to the model, parses the
// structured evaluation out of its free-form reply, validates every key
// moment's quote against the transcript, and returns the finished analysis.
// On any error no partial analysis is returned.
func (a *Analyzer) Analyze(ctx context.Context, transcript domain.Transcript) (domain.Analysis, error) {
	if len(transcript.Turns) == 0 {
		return domain.Analysis{}, ErrNoTranscript
	}

	start := time.Now()
	raw, err := a.gen.GenerateText(ctx, systemPrompt, userPrompt(transcript))
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	before := len(analysis.KeyMoments)
	analysis.KeyMoments = ValidateKeyMoments(analysis.KeyMoments, transcript.Turns)
	if dropped := before - len(analysis.KeyMoments); dropped > 0 {
		a.logger.Warn("dropped unverifiable key moments",
			"call_id", transcript.CallID, "dropped", dropped, "kept", len(analysis.KeyMoments))
	}

	analysis.CallID = transcript.CallID
	analysis.ProcessingTimeMs = time.Since(start).Milliseconds()
	analysis.CreatedAt = time.Now().UTC()
	return analysis, nil
}

const systemPrompt = `You are a call-centre quality assurance reviewer. You score calls strictly against the rubric you are given and cite verbatim quotes from the transcript as evidence. Respond with a single JSON object and nothing else.`

func userPrompt(t domain.Transcript) string {
	var b strings.Builder
	b.WriteString("Score this call against the rubric below. All scores are 0-10.\n\n")
	b.WriteString("Always scored: communication, empathy, professionalism, problemResolution.\n")
	b.WriteString("Compliance dimensions, scored only where applicable (use null otherwise):\n")
	b.WriteString("- dpaVerification: identity checked before discussing account data\n")
	b.WriteString("- coolingOffDisclosure: cancellation/cooling-off period explained on sales\n")
	b.WriteString("- pricingTransparency: total price and recurring charges stated clearly\n")
	b.WriteString("- regulatoryWording: mandated disclosures read accurately\n\n")
	b.WriteString(`Reply with JSON: {"scores":{...},"keyMoments":[{"timestampSeconds","polarity","dimension","description","quote"}],"complianceIssues":[{"severity","dimension","description","regulatoryReference","timestampSeconds","remediation"}],"coaching":[...],"summary","outcome":{"resolved","escalated","followUpRequired","customerSentiment"}}`)
	b.WriteString("\nQuotes must be copied verbatim from the transcript with their timestamps.\n\nTranscript")
	if t.Language != "" {
		fmt.Fprintf(&b, " (%s)", t.Language)
	}
	fmt.Fprintf(&b, ", %.0f seconds:\n", t.DurationSeconds)
	for _, turn := range t.Turns {
		fmt.Fprintf(&b, "[%.1fs] %s: %s\n", turn.TimestampSeconds, turn.Speaker, turn.Text)
	}
	return b.String()
}
