package upload

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestAddOutOfOrderChunks(t *testing.T) {
	r := New(1 << 20)

	data, done, err := r.Add("call.wav", 2, 3, "audio/wav", []byte("cc"))
	if err != nil || done {
		t.Fatalf("chunk 2: done=%v err=%v", done, err)
	}
	if data != nil {
		t.Fatalf("expected no data before completion")
	}
	if _, done, err = r.Add("call.wav", 0, 3, "audio/wav", []byte("aa")); err != nil || done {
		t.Fatalf("chunk 0: done=%v err=%v", done, err)
	}
	data, done, err = r.Add("call.wav", 1, 3, "audio/wav", []byte("bb"))
	if err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	if !done {
		t.Fatalf("expected completion after full coverage")
	}
	if !bytes.Equal(data, []byte("aabbcc")) {
		t.Fatalf("assembled = %q, want %q", data, "aabbcc")
	}

	if _, _, ok := r.Pending("call.wav"); ok {
		t.Fatalf("buffered state should be released after completion")
	}
}

func TestAddRejectsBadIndexes(t *testing.T) {
	r := New(1 << 20)
	if _, _, err := r.Add("a.wav", 3, 3, "audio/wav", nil); !errors.Is(err, ErrChunkOutOfRange) {
		t.Fatalf("err = %v, want ErrChunkOutOfRange", err)
	}
	if _, _, err := r.Add("a.wav", -1, 3, "audio/wav", nil); !errors.Is(err, ErrChunkOutOfRange) {
		t.Fatalf("err = %v, want ErrChunkOutOfRange", err)
	}
	if _, _, err := r.Add("a.wav", 0, 0, "audio/wav", nil); !errors.Is(err, ErrChunkOutOfRange) {
		t.Fatalf("err = %v, want ErrChunkOutOfRange", err)
	}
}

func TestAddRejectsChangedTotal(t *testing.T) {
	r := New(1 << 20)
	if _, _, err := r.Add("a.wav", 0, 3, "audio/wav", []byte("x")); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	if _, _, err := r.Add("a.wav", 1, 4, "audio/wav", []byte("y")); !errors.Is(err, ErrChunkOutOfRange) {
		t.Fatalf("err = %v, want ErrChunkOutOfRange", err)
	}
}

func TestAddRejectsNonAudioType(t *testing.T) {
	r := New(1 << 20)
	if _, _, err := r.Add("a.wav", 0, 1, "text/html", []byte("x")); !errors.Is(err, ErrTypeRejected) {
		t.Fatalf("err = %v, want ErrTypeRejected", err)
	}
}

func TestAddEnforcesSizeCeiling(t *testing.T) {
	r := New(4)
	if _, _, err := r.Add("a.wav", 0, 2, "audio/wav", []byte("abc")); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	_, _, err := r.Add("a.wav", 1, 2, "audio/wav", []byte("de"))
	if !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("err = %v, want ErrSizeExceeded", err)
	}
	// State must be dropped so a retry starts clean.
	if _, _, ok := r.Pending("a.wav"); ok {
		t.Fatalf("oversized upload should be discarded")
	}
}

func TestDuplicateChunkReplaces(t *testing.T) {
	r := New(1 << 20)
	if _, _, err := r.Add("a.wav", 0, 2, "audio/wav", []byte("old!")); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	if _, _, err := r.Add("a.wav", 0, 2, "audio/wav", []byte("new!")); err != nil {
		t.Fatalf("chunk 0 retry: %v", err)
	}
	data, done, err := r.Add("a.wav", 1, 2, "audio/wav", []byte("tail"))
	if err != nil || !done {
		t.Fatalf("chunk 1: done=%v err=%v", done, err)
	}
	if string(data) != "new!tail" {
		t.Fatalf("assembled = %q, want %q", data, "new!tail")
	}
}

func TestSweepDropsStaleUploads(t *testing.T) {
	r := New(1 << 20)
	r.maxAge = -time.Second
	if _, _, err := r.Add("stale.wav", 0, 2, "audio/wav", []byte("x")); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if n := r.Sweep(); n != 1 {
		t.Fatalf("swept %d uploads, want 1", n)
	}
	if _, _, ok := r.Pending("stale.wav"); ok {
		t.Fatalf("stale upload should be gone")
	}
}
