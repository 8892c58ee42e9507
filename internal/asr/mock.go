package asr

import (
	"context"
	"sync"
	"time"
)

// MockBackend is a deterministic in-process backend for tests and local
// development.
type MockBackend struct {
	Segments  []Segment
	Err       error
	Delay     time.Duration
	Languages []string

	mu    sync.Mutex
	calls int
}

func (m *MockBackend) Transcribe(ctx context.Context, _ string, _ Options) ([]Segment, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return normalizeSegments(m.Segments), nil
}

func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockBackend) SupportedLanguages() []string {
	if len(m.Languages) > 0 {
		return m.Languages
	}
	return []string{"en"}
}

func (m *MockBackend) Version() string {
	return "mock"
}

func (m *MockBackend) Attribution() Attribution {
	return Attribution{Name: "loqa-stt", URL: "https://github.com/loqalabs/loqa-stt"}
}
