package filename

import (
	"errors"
	"testing"
	"time"
)

func TestParseStandardName(t *testing.T) {
	meta, err := Parse("[Stevens, Rebecca]_218-07786515254_20251112120634(2367).wav")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if meta.AgentName != "Rebecca Stevens" {
		t.Fatalf("agent name = %q, want %q", meta.AgentName, "Rebecca Stevens")
	}
	if meta.AgentID != "218" {
		t.Fatalf("agent id = %q, want %q", meta.AgentID, "218")
	}
	if meta.PhoneNumber != "07786515254" {
		t.Fatalf("phone = %q, want %q", meta.PhoneNumber, "07786515254")
	}
	if meta.CallID != "2367" {
		t.Fatalf("call id = %q, want %q", meta.CallID, "2367")
	}
	want := time.Date(2025, 11, 12, 12, 6, 34, 0, time.UTC)
	if !meta.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", meta.Timestamp, want)
	}
}

func TestParseTimestampRoundTrip(t *testing.T) {
	names := []string{
		"[Doe, Jane]_1-0044123_20240229235959(1).wav",
		"[Smith,   Al]_99-555_20230101000000(42)",
	}
	for _, name := range names {
		meta, err := Parse(name)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		if got := meta.Timestamp.Format(timestampLayout); len(got) != 14 {
			t.Fatalf("round-trip timestamp %q", got)
		}
	}
}

func TestParseFullNameFallback(t *testing.T) {
	meta, err := Parse("[Rebecca Stevens]_218-07786515254_20251112120634(2367).wav")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if meta.AgentName != "Rebecca Stevens" {
		t.Fatalf("agent name = %q, want %q", meta.AgentName, "Rebecca Stevens")
	}
	if meta.CallID != "2367" {
		t.Fatalf("call id = %q, want %q", meta.CallID, "2367")
	}
}

func TestParseRejectsNonConformingNames(t *testing.T) {
	bad := []string{
		"random-file.wav",
		"",
		"[NoUnderscore]218-555_20251112120634(1).wav",
		"[Doe, Jane]_x-555_20251112120634(1).wav",
		"[Doe, Jane]_1-555_2025111212063(1).wav", // 13 digits
	}
	for _, name := range bad {
		if _, err := Parse(name); !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalidFormat", name, err)
		}
	}
}

func TestParseRejectsImpossibleDate(t *testing.T) {
	// Month 13 matches the pattern but is not a real calendar date.
	_, err := Parse("[Doe, Jane]_1-555_20251312120634(1).wav")
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("err = %v, want ErrInvalidTimestamp", err)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	const name = "[Stevens, Rebecca]_218-07786515254_20251112120634(2367).wav"
	first, err := Parse(name)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	second, err := Parse(name)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if first != second {
		t.Fatalf("parse not deterministic: %+v vs %+v", first, second)
	}
}
