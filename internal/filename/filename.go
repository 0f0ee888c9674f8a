// Package filename parses the fixed recording-name convention used by the
// dialer export: [LastName, FirstName]_AgentID-Phone_YYYYMMDDHHmmss(CallID)
// with an optional .wav extension. Parsing is pure: the same name always
// yields the same metadata or the same error.
package filename

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrInvalidFormat means the name does not match the convention.
	ErrInvalidFormat = errors.New("invalid filename format")
	// ErrInvalidTimestamp means the 14-digit stamp is not a real date/time.
	ErrInvalidTimestamp = errors.New("invalid timestamp in filename")
)

var (
	namePattern = regexp.MustCompile(`^\[([^,]+),\s*([^\]]+)\]_(\d+)-(\d+)_(\d{14})\((\d+)\)(\.wav)?$`)
	// Fallback for exports that put the full name in the brackets without a comma.
	fullNamePattern = regexp.MustCompile(`^\[([^\]]+)\]_(\d+)-(\d+)_(\d{14})\((\d+)\)(\.wav)?$`)
)

const timestampLayout = "20060102150405"

// Metadata is everything encoded in a conforming recording name.
type Metadata struct {
	AgentName   string
	AgentID     string
	PhoneNumber string
	CallID      string
	Timestamp   time.Time
}

// Parse extracts metadata from a recording filename.
func Parse(name string) (Metadata, error) {
	name = strings.TrimSpace(name)

	if m := namePattern.FindStringSubmatch(name); m != nil {
		ts, err := parseTimestamp(m[5])
		if err != nil {
			return Metadata{}, err
		}
		last := strings.TrimSpace(m[1])
		first := strings.TrimSpace(m[2])
		return Metadata{
			AgentName:   first + " " + last,
			AgentID:     m[3],
			PhoneNumber: m[4],
			CallID:      m[6],
			Timestamp:   ts,
		}, nil
	}

	if m := fullNamePattern.FindStringSubmatch(name); m != nil {
		ts, err := parseTimestamp(m[4])
		if err != nil {
			return Metadata{}, err
		}
		return Metadata{
			AgentName:   strings.TrimSpace(m[1]),
			AgentID:     m[2],
			PhoneNumber: m[3],
			CallID:      m[5],
			Timestamp:   ts,
		}, nil
	}

	return Metadata{}, ErrInvalidFormat
}

func parseTimestamp(raw string) (time.Time, error) {
	ts, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return time.Time{}, ErrInvalidTimestamp
	}
	return ts, nil
}
