// Package audio shrinks recordings that exceed the transcription service's
// size ceiling by transcoding them to mono 16kHz at a constrained bitrate.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrCompressionFailed wraps transcoder subprocess failures.
var ErrCompressionFailed = errors.New("compression failed")

// Result reports what the gate did with a file.
type Result struct {
	Path         string
	Compressed   bool
	OriginalSize int64
	FinalSize    int64
}

// Gate decides whether a file needs transcoding and runs ffmpeg when it does.
type Gate struct {
	ffmpegPath string
	ceiling    int64
	bitrateKb  int
	timeout    time.Duration
	logger     *slog.Logger
	runCommand func(ctx context.Context, name string, args ...string) error
}

// Config for the compression gate. Ceiling is the transcription-service
// limit, not the upload limit.
type Config struct {
	FFmpegPath string
	Ceiling    int64
	BitrateKb  int
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewGate builds a gate with defaults filled in.
func NewGate(cfg Config) *Gate {
	ffmpeg := strings.TrimSpace(cfg.FFmpegPath)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ceiling := cfg.Ceiling
	if ceiling <= 0 {
		ceiling = 25 << 20
	}
	bitrate := cfg.BitrateKb
	if bitrate <= 0 {
		bitrate = 32
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		ffmpegPath: ffmpeg,
		ceiling:    ceiling,
		bitrateKb:  bitrate,
		timeout:    timeout,
		logger:     logger,
	}
	g.runCommand = g.runExec
	return g
}

// Process returns the original path untouched when the file is at or under
// the ceiling. Over the ceiling it transcodes to mono/16kHz and replaces the
// stored artifact. The intermediate file is removed whether or not the
// transcode succeeds.
func (g *Gate) Process(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat audio file: %w", err)
	}
	size := info.Size()
	if size <= g.ceiling {
		return Result{Path: path, Compressed: false, OriginalSize: size, FinalSize: size}, nil
	}

	g.logger.Info("audio over transcription ceiling, compressing",
		"path", path, "size_bytes", size, "ceiling_bytes", g.ceiling)

	tmp := intermediatePath(path)
	defer os.Remove(tmp)

	if err := g.runCommand(ctx, g.ffmpegPath, g.transcodeArgs(path, tmp)...); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}

	out, err := os.Stat(tmp)
	if err != nil {
		return Result{}, fmt.Errorf("%w: transcoder produced no output: %v", ErrCompressionFailed, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Result{}, fmt.Errorf("replace audio artifact: %w", err)
	}

	final := out.Size()
	if final > g.ceiling {
		// Downstream services enforce their own limit and return a clearer
		// error, so log and let the pipeline attempt the file anyway.
		g.logger.Warn("compressed audio still over ceiling",
			"path", path, "final_bytes", final, "ceiling_bytes", g.ceiling)
	}
	return Result{Path: path, Compressed: true, OriginalSize: size, FinalSize: final}, nil
}

// transcodeArgs downsamples to mono 16kHz at the configured bitrate and
// re-encodes into the input's own container format.
func (g *Gate) transcodeArgs(in, out string) []string {
	return []string{
		"-y",
		"-i", in,
		"-ac", "1",
		"-ar", "16000",
		"-b:a", strconv.Itoa(g.bitrateKb) + "k",
		out,
	}
}

func (g *Gate) runExec(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(output))
		if len(msg) > 400 {
			msg = msg[len(msg)-400:]
		}
		return fmt.Errorf("%s: %v: %s", name, err, msg)
	}
	return nil
}

func intermediatePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".compress-tmp" + ext
}
