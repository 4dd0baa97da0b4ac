package mock

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const (
	MockName               = "mock"
	MockDefaultMaxRequests = 100
	MockDefaultWindowSecs  = 60
)

// MockSandbox is a scripted in-memory sandbox. Every submission completes
// after PollsUntilComplete status checks and serves Payload as its report.
type MockSandbox struct {
	PollsUntilComplete     int   // IsComplete calls that report pending before completion
	Reject                 error // if set, IsComplete rejects every submission with it
	Payload                []byte
	Unavailable            bool
	RequestsUntilRateLimit int  // How many requests until we hit a limit
	ShouldReturn429Always  bool // If true, every request is rate limited

	MaxRequests int
	WindowSecs  int64

	mu                  sync.Mutex
	polls               map[string]int
	samples             map[string][]byte
	currentRequestCount int
	now                 func() time.Time
}

func NewMockSandbox(pollsUntilComplete int, payload string) *MockSandbox {
	m := &MockSandbox{PollsUntilComplete: pollsUntilComplete, Payload: []byte(payload)}
	m.SetRateLimitDefaults(0, 0)
	return m
}

func (m *MockSandbox) SetRateLimitDefaults(maxRequests int, windowSecs int64) {
	if maxRequests == 0 {
		maxRequests = MockDefaultMaxRequests
	}
	if windowSecs == 0 {
		windowSecs = MockDefaultWindowSecs
	}
	m.MaxRequests = maxRequests
	m.WindowSecs = windowSecs
}

func (m *MockSandbox) Name() string { return MockName }

// request counts one call against the scripted limit. Callers hold m.mu.
func (m *MockSandbox) request() error {
	m.currentRequestCount++
	if m.ShouldReturn429Always || (m.RequestsUntilRateLimit > 0 && m.currentRequestCount > m.RequestsUntilRateLimit) {
		return &sandboxbridge.TransportError{
			URL:    "mock://" + MockName,
			Status: 429,
			Body:   []byte(`{"error":"Rate limited"}`),
			Err:    sandboxbridge.ErrRateLimited,
		}
	}
	return nil
}

func (m *MockSandbox) Submit(ctx context.Context, content io.ReadSeeker, filename string) (sandboxbridge.SubmissionID, error) {
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return sandboxbridge.SubmissionID{}, fmt.Errorf("rewind sample: %w", err)
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return sandboxbridge.SubmissionID{}, fmt.Errorf("read sample: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.request(); err != nil {
		return sandboxbridge.SubmissionID{}, &sandboxbridge.SubmissionError{Backend: MockName, Reason: "upload failed", Err: err}
	}
	if m.polls == nil {
		m.polls = make(map[string]int)
		m.samples = make(map[string][]byte)
	}
	id := fmt.Sprintf("%d", len(m.polls)+1)
	m.polls[id] = 0
	m.samples[id] = data
	return sandboxbridge.NewSubmissionID(MockName, id), nil
}

func (m *MockSandbox) IsComplete(ctx context.Context, id sandboxbridge.SubmissionID) (bool, error) {
	if err := id.Check(MockName); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.request(); err != nil {
		return false, err
	}
	n, ok := m.polls[id.Value]
	if !ok {
		return sandboxbridge.NotVisible().Resolve(MockName, id)
	}
	if m.Reject != nil {
		return sandboxbridge.Rejected("failed", m.Reject).Resolve(MockName, id)
	}
	m.polls[id.Value] = n + 1
	if n < m.PollsUntilComplete {
		return sandboxbridge.Pending("running").Resolve(MockName, id)
	}
	return sandboxbridge.Complete("reported").Resolve(MockName, id)
}

func (m *MockSandbox) FetchReport(ctx context.Context, id sandboxbridge.SubmissionID, format string) (*sandboxbridge.Report, error) {
	if err := id.Check(MockName); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.request(); err != nil {
		return nil, err
	}
	if format == "" || format == "json" {
		return sandboxbridge.JSONOrRaw("json", m.Payload), nil
	}
	return sandboxbridge.UnavailableReport(format), nil
}

// Score reads the top-level "score" field, defaulting to 0.
func (m *MockSandbox) Score(report *sandboxbridge.Report) (float64, error) {
	return report.Get("score").Float(), nil
}

func (m *MockSandbox) IsAvailable(ctx context.Context) bool {
	return !m.Unavailable
}

// Sample returns the content uploaded under id.
func (m *MockSandbox) Sample(id sandboxbridge.SubmissionID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.samples[id.Value]
	return data, ok
}

// RateLimitInfo reports the remaining scripted budget.
func (m *MockSandbox) RateLimitInfo() *sandboxbridge.NormalizedRateLimitInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := m.MaxRequests - m.currentRequestCount
	if m.RequestsUntilRateLimit > 0 {
		remaining = m.RequestsUntilRateLimit - m.currentRequestCount
	}
	if m.ShouldReturn429Always || remaining < 0 {
		remaining = 0
	}
	var resetAt *int64
	if remaining == 0 {
		now := time.Now
		if m.now != nil {
			now = m.now
		}
		future := (now().Unix() + m.WindowSecs) * 1000
		resetAt = &future
	}
	return &sandboxbridge.NormalizedRateLimitInfo{
		MaxRequests:       intPtr(m.MaxRequests),
		RemainingRequests: intPtr(remaining),
		ResetRequestsAt:   resetAt,
	}
}

func intPtr(i int) *int {
	return &i
}

var (
	_ sandboxbridge.Sandbox           = (*MockSandbox)(nil)
	_ sandboxbridge.RateLimitReporter = (*MockSandbox)(nil)
)
