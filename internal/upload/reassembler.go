// Package upload reconstructs audio files from sequentially numbered chunks
// posted by the browser. Chunks for one logical file may arrive in any order
// but always from a single client session.
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrIncompleteUpload means finalize was attempted before full coverage.
	ErrIncompleteUpload = errors.New("upload incomplete")
	// ErrSizeExceeded means the accumulated bytes passed the upload ceiling.
	ErrSizeExceeded = errors.New("upload size exceeded")
	// ErrTypeRejected means the declared MIME type is not an accepted audio type.
	ErrTypeRejected = errors.New("unsupported content type")
	// ErrChunkOutOfRange means chunkIndex is outside 0..totalChunks-1 or the
	// declared total changed between chunks.
	ErrChunkOutOfRange = errors.New("chunk index out of range")
)

var acceptedTypes = map[string]bool{
	"audio/wav":                true,
	"audio/wave":               true,
	"audio/x-wav":              true,
	"audio/vnd.wave":           true,
	"application/octet-stream": true, // browsers often send chunk blobs untyped
}

type pending struct {
	total     int
	parts     map[int][]byte
	size      int64
	updatedAt time.Time
}

// Reassembler buffers chunks by filename until index coverage is complete.
type Reassembler struct {
	mu       sync.Mutex
	uploads  map[string]*pending
	maxBytes int64
	maxAge   time.Duration
}

// New creates a reassembler with the given per-file byte ceiling.
func New(maxBytes int64) *Reassembler {
	return &Reassembler{
		uploads:  make(map[string]*pending),
		maxBytes: maxBytes,
		maxAge:   time.Hour,
	}
}

// Add buffers one chunk. It returns (data, true, nil) once every index in
// 0..totalChunks-1 has arrived, with data concatenated in index order; the
// buffered state for the filename is released at that point.
func (r *Reassembler) Add(filename string, chunkIndex, totalChunks int, contentType string, chunk []byte) ([]byte, bool, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, false, fmt.Errorf("%w: filename required", ErrChunkOutOfRange)
	}
	if totalChunks <= 0 || chunkIndex < 0 || chunkIndex >= totalChunks {
		return nil, false, fmt.Errorf("%w: index %d of %d", ErrChunkOutOfRange, chunkIndex, totalChunks)
	}
	if !acceptedType(contentType) {
		return nil, false, fmt.Errorf("%w: %s", ErrTypeRejected, contentType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.uploads[filename]
	if !ok {
		p = &pending{total: totalChunks, parts: make(map[int][]byte)}
		r.uploads[filename] = p
	}
	if p.total != totalChunks {
		return nil, false, fmt.Errorf("%w: totalChunks changed from %d to %d", ErrChunkOutOfRange, p.total, totalChunks)
	}

	if prev, dup := p.parts[chunkIndex]; dup {
		p.size -= int64(len(prev))
	}
	p.parts[chunkIndex] = chunk
	p.size += int64(len(chunk))
	p.updatedAt = time.Now()

	if r.maxBytes > 0 && p.size > r.maxBytes {
		delete(r.uploads, filename)
		return nil, false, fmt.Errorf("%w: %d bytes over %d ceiling", ErrSizeExceeded, p.size, r.maxBytes)
	}

	if len(p.parts) < p.total {
		return nil, false, nil
	}

	buf := bytes.NewBuffer(make([]byte, 0, p.size))
	for i := 0; i < p.total; i++ {
		part, ok := p.parts[i]
		if !ok {
			// len==total but an index is missing: duplicate indexes were sent.
			return nil, false, fmt.Errorf("%w: missing chunk %d", ErrIncompleteUpload, i)
		}
		buf.Write(part)
	}
	delete(r.uploads, filename)
	return buf.Bytes(), true, nil
}

// Abort drops any buffered state for a filename.
func (r *Reassembler) Abort(filename string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.uploads, filename)
}

// Pending reports how many chunks have arrived for a filename.
func (r *Reassembler) Pending(filename string) (received, total int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.uploads[filename]
	if !ok {
		return 0, 0, false
	}
	return len(p.parts), p.total, true
}

// Sweep releases uploads that have been idle longer than the max age, so an
// abandoned browser session cannot pin memory forever.
func (r *Reassembler) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-r.maxAge)
	var n int
	for name, p := range r.uploads {
		if p.updatedAt.Before(cutoff) {
			delete(r.uploads, name)
			n++
		}
	}
	return n
}

func acceptedType(contentType string) bool {
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	if contentType == "" {
		return true
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return acceptedTypes[contentType]
}
