package analyze

import (
	"strings"
	"unicode"

	"callaudit/pkg/domain"
)

const (
	// quoteWindowSeconds bounds how far a moment's claimed timestamp may sit
	// from the turn that actually contains its quote.
	quoteWindowSeconds = 30.0
	// significantWordMinLen filters filler words out of quote matching;
	// only words longer than this count toward the match.
	significantWordMinLen = 3
	// matchRatio is the fraction of significant quote words that must appear
	// in a turn for it to anchor the quote.
	matchRatio = 0.6
	// minMatchFloor keeps very short quotes from matching on one or two words.
	minMatchFloor = 3
)

// ValidateKeyMoments is the integrity gate between what the model said and
// what is actually in the transcript. Each moment's quote is matched against
// the turns within ±quoteWindowSeconds of its claimed timestamp: a verified
// moment has its timestamp replaced with the matched turn's real one, and an
// unverifiable moment is dropped as hallucinated.
func ValidateKeyMoments(moments []domain.KeyMoment, turns []domain.Turn) []domain.KeyMoment {
	kept := make([]domain.KeyMoment, 0, len(moments))
	for _, m := range moments {
		turn, ok := matchQuote(m.Quote, m.TimestampSeconds, turns)
		if !ok {
			continue
		}
		m.TimestampSeconds = turn.TimestampSeconds
		kept = append(kept, m)
	}
	return kept
}

// matchQuote finds the turn that best contains the quote's significant words.
// Ties on match count go to the first turn in window order, not the turn
// closest to the claimed timestamp.
func matchQuote(quote string, claimed float64, turns []domain.Turn) (domain.Turn, bool) {
	quoteWords := significantWords(quote)
	n := len(quoteWords)
	if n == 0 {
		return domain.Turn{}, false
	}
	// A quote with fewer significant words than the floor can never reach it
	// and is unverifiable by construction.
	minMatch := int(matchRatio * float64(n))
	if minMatch < minMatchFloor {
		minMatch = minMatchFloor
	}

	var best domain.Turn
	bestCount := 0
	for _, turn := range turns {
		delta := turn.TimestampSeconds - claimed
		if delta < -quoteWindowSeconds || delta > quoteWindowSeconds {
			continue
		}
		count := matchCount(quoteWords, significantWords(turn.Text))
		if count >= minMatch && count > bestCount {
			best = turn
			bestCount = count
		}
	}
	if bestCount == 0 {
		return domain.Turn{}, false
	}
	return best, true
}

// matchCount counts quote words that appear as a substring of, or contain as
// a substring, some word of the turn. The bidirectional containment tolerates
// stemming and punctuation noise in either direction.
func matchCount(quoteWords, turnWords []string) int {
	var count int
	for _, qw := range quoteWords {
		for _, tw := range turnWords {
			if strings.Contains(tw, qw) || strings.Contains(qw, tw) {
				count++
				break
			}
		}
	}
	return count
}

func significantWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if len(f) > significantWordMinLen {
			words = append(words, f)
		}
	}
	return words
}
