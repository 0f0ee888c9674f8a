// Package transcribe sends audio to the external speech-to-text service and
// normalizes whatever shape it returns into speaker-attributed turns.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"callaudit/pkg/domain"
)

var (
	// ErrTranscriptionFailed wraps any adapter failure. It is terminal for
	// the call; the pipeline does not retry transcription automatically.
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrEmptyTranscript means the service returned no usable speech.
	ErrEmptyTranscript = errors.New("empty transcript")
)

// Client talks to an OpenAI-style audio transcription endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Options configures the transcription client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient builds a transcription client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads the audio file and returns the normalized transcript.
// No partial transcript is ever returned alongside an error.
func (c *Client) Transcribe(ctx context.Context, audioPath, callID string) (domain.Transcript, error) {
	if c.baseURL == "" {
		return domain.Transcript{}, fmt.Errorf("%w: transcription URL not configured", ErrTranscriptionFailed)
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("%w: open audio: %v", ErrTranscriptionFailed, err)
	}
	defer file.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return domain.Transcript{}, fmt.Errorf("%w: read audio: %v", ErrTranscriptionFailed, err)
	}
	_ = mw.WriteField("response_format", "verbose_json")
	if err := mw.Close(); err != nil {
		return domain.Transcript{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Transcript{}, fmt.Errorf("%w: service returned %s: %s",
			ErrTranscriptionFailed, resp.Status, strings.TrimSpace(string(msg)))
	}

	var sr serviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return domain.Transcript{}, fmt.Errorf("%w: decode response: %v", ErrTranscriptionFailed, err)
	}

	transcript, err := Normalize(sr, callID)
	if err != nil {
		return domain.Transcript{}, err
	}
	return transcript, nil
}

// serviceResponse covers the three shapes the speech service may return:
// a single text blob, segmented output with timestamps, or diarized
// utterances carrying speaker labels.
type serviceResponse struct {
	Text       string             `json:"text"`
	Language   string             `json:"language"`
	Duration   float64            `json:"duration"`
	Segments   []serviceSegment   `json:"segments"`
	Utterances []serviceUtterance `json:"utterances"`
}

type serviceSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type serviceUtterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}
