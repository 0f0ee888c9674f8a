package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestProcessAtCeilingIsNeverCompressed(t *testing.T) {
	g := NewGate(Config{Ceiling: 1024})
	g.runCommand = func(context.Context, string, ...string) error {
		t.Fatalf("transcoder must not run at the ceiling")
		return nil
	}
	path := writeFile(t, t.TempDir(), "exact.wav", 1024)

	res, err := g.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Compressed {
		t.Fatalf("file of exactly ceiling size was compressed")
	}
	if res.Path != path || res.FinalSize != 1024 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestProcessOneByteOverIsCompressed(t *testing.T) {
	g := NewGate(Config{Ceiling: 1024})
	var gotArgs []string
	g.runCommand = func(_ context.Context, _ string, args ...string) error {
		gotArgs = args
		// Simulate the transcoder writing a smaller output file.
		return os.WriteFile(args[len(args)-1], make([]byte, 100), 0o644)
	}
	path := writeFile(t, t.TempDir(), "over.wav", 1025)

	res, err := g.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !res.Compressed {
		t.Fatalf("file one byte over ceiling was not compressed")
	}
	if res.OriginalSize != 1025 || res.FinalSize != 100 {
		t.Fatalf("unexpected sizes: %+v", res)
	}
	if res.Path != path {
		t.Fatalf("artifact should be replaced in place, got %q", res.Path)
	}
	assertArg(t, gotArgs, "-ac", "1")
	assertArg(t, gotArgs, "-ar", "16000")
	assertArg(t, gotArgs, "-b:a", "32k")
}

func TestProcessTranscoderFailure(t *testing.T) {
	g := NewGate(Config{Ceiling: 10})
	g.runCommand = func(context.Context, string, ...string) error {
		return errors.New("exit status 1")
	}
	path := writeFile(t, t.TempDir(), "bad.wav", 11)

	_, err := g.Process(context.Background(), path)
	if !errors.Is(err, ErrCompressionFailed) {
		t.Fatalf("err = %v, want ErrCompressionFailed", err)
	}
	// Original artifact must survive a failed transcode.
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("original file missing after failure: %v", statErr)
	}
}

func TestProcessCleansIntermediateOnFailure(t *testing.T) {
	dir := t.TempDir()
	g := NewGate(Config{Ceiling: 10})
	g.runCommand = func(_ context.Context, _ string, args ...string) error {
		// Write the intermediate, then fail: cleanup must still happen.
		_ = os.WriteFile(args[len(args)-1], []byte("partial"), 0o644)
		return errors.New("killed")
	}
	path := writeFile(t, dir, "cleanup.wav", 11)

	if _, err := g.Process(context.Background(), path); err == nil {
		t.Fatalf("expected transcode failure")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "cleanup.wav" {
		t.Fatalf("intermediate artifact not cleaned up: %v", entries)
	}
}

func TestProcessStillOverCeilingProceeds(t *testing.T) {
	g := NewGate(Config{Ceiling: 50})
	g.runCommand = func(_ context.Context, _ string, args ...string) error {
		return os.WriteFile(args[len(args)-1], make([]byte, 60), 0o644)
	}
	path := writeFile(t, t.TempDir(), "stubborn.wav", 100)

	res, err := g.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("still-over-ceiling must warn, not fail: %v", err)
	}
	if !res.Compressed || res.FinalSize != 60 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func assertArg(t *testing.T, args []string, flag, want string) {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			if args[i+1] != want {
				t.Fatalf("arg %s = %q, want %q", flag, args[i+1], want)
			}
			return
		}
	}
	t.Fatalf("flag %s missing from args %v", flag, args)
}
