package transcribe

import (
	"fmt"
	"strings"
	"time"

	"callaudit/pkg/domain"
)

const (
	// speakerGapSeconds is the pause that toggles the assumed speaker when
	// the service gives segments without diarization.
	speakerGapSeconds = 2.0
	// durationBuffer pads the last turn's timestamp when the service reports
	// no duration and no segment end times.
	durationBuffer = 5.0
)

// Normalize converts a raw service response into the uniform turn sequence.
// Diarized utterances keep their labels, mapped by the first-speaker-is-agent
// convention. Plain segments fall back to a pause heuristic: a gap over
// speakerGapSeconds toggles the assumed speaker, starting from agent.
func Normalize(sr serviceResponse, callID string) (domain.Transcript, error) {
	var turns []domain.Turn
	switch {
	case len(sr.Utterances) > 0 && hasSpeakerLabels(sr.Utterances):
		turns = turnsFromUtterances(sr.Utterances)
	case len(sr.Utterances) > 0:
		turns = turnsFromSegments(utteranceSegments(sr.Utterances))
	case len(sr.Segments) > 0:
		turns = turnsFromSegments(sr.Segments)
	case strings.TrimSpace(sr.Text) != "":
		turns = []domain.Turn{{
			Speaker:          domain.SpeakerAgent,
			Text:             strings.TrimSpace(sr.Text),
			TimestampSeconds: 0,
		}}
	}

	if len(turns) == 0 {
		return domain.Transcript{}, fmt.Errorf("%w: no speech in service response", ErrEmptyTranscript)
	}

	return domain.Transcript{
		CallID:          callID,
		Turns:           turns,
		DurationSeconds: resolveDuration(sr, turns),
		Language:        strings.TrimSpace(sr.Language),
		CreatedAt:       time.Now().UTC(),
	}, nil
}

func hasSpeakerLabels(utts []serviceUtterance) bool {
	for _, u := range utts {
		if strings.TrimSpace(u.Speaker) != "" {
			return true
		}
	}
	return false
}

// turnsFromUtterances maps service speaker labels onto agent/customer.
// The first label seen is the agent; every other label is the customer.
func turnsFromUtterances(utts []serviceUtterance) []domain.Turn {
	var agentLabel string
	turns := make([]domain.Turn, 0, len(utts))
	for _, u := range utts {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		label := strings.TrimSpace(u.Speaker)
		if agentLabel == "" {
			agentLabel = label
		}
		speaker := domain.SpeakerCustomer
		if label == agentLabel {
			speaker = domain.SpeakerAgent
		}
		turns = append(turns, domain.Turn{
			Speaker:          speaker,
			Text:             text,
			TimestampSeconds: u.Start,
			Confidence:       u.Confidence,
		})
	}
	return turns
}

func turnsFromSegments(segs []serviceSegment) []domain.Turn {
	speaker := domain.SpeakerAgent
	turns := make([]domain.Turn, 0, len(segs))
	var prevEnd float64
	for i, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if i > 0 && s.Start-prevEnd > speakerGapSeconds {
			speaker = toggle(speaker)
		}
		turns = append(turns, domain.Turn{
			Speaker:          speaker,
			Text:             text,
			TimestampSeconds: s.Start,
		})
		prevEnd = s.End
	}
	return turns
}

func utteranceSegments(utts []serviceUtterance) []serviceSegment {
	segs := make([]serviceSegment, 0, len(utts))
	for _, u := range utts {
		segs = append(segs, serviceSegment{Text: u.Text, Start: u.Start, End: u.End})
	}
	return segs
}

func toggle(s domain.Speaker) domain.Speaker {
	if s == domain.SpeakerAgent {
		return domain.SpeakerCustomer
	}
	return domain.SpeakerAgent
}

// resolveDuration prefers the service's reported duration, then the last
// segment's end time, then the last turn's timestamp plus a fixed buffer.
func resolveDuration(sr serviceResponse, turns []domain.Turn) float64 {
	if sr.Duration > 0 {
		return sr.Duration
	}
	var lastEnd float64
	for _, s := range sr.Segments {
		if s.End > lastEnd {
			lastEnd = s.End
		}
	}
	for _, u := range sr.Utterances {
		if u.End > lastEnd {
			lastEnd = u.End
		}
	}
	if lastEnd > 0 {
		return lastEnd
	}
	return turns[len(turns)-1].TimestampSeconds + durationBuffer
}
