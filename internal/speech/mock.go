package speech

import "sync"

// MockSynthesizer records utterances for assertions in tests. It can be
// configured to fail or to block until cancelled.
type MockSynthesizer struct {
	mu        sync.Mutex
	spoken    []string
	cancelled int

	// Err, when set, is returned by every Speak call after recording.
	Err error

	// BlockUntilCancel makes Speak block until Cancel is called.
	BlockUntilCancel bool
	release          chan struct{}
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{release: make(chan struct{}, 1)}
}

func (m *MockSynthesizer) Speak(text string) error {
	m.mu.Lock()
	m.spoken = append(m.spoken, text)
	block := m.BlockUntilCancel
	err := m.Err
	m.mu.Unlock()

	if block {
		<-m.release
	}
	return err
}

func (m *MockSynthesizer) Cancel() {
	m.mu.Lock()
	m.cancelled++
	m.mu.Unlock()

	select {
	case m.release <- struct{}{}:
	default:
	}
}

// Spoken returns a copy of all utterances recorded so far.
func (m *MockSynthesizer) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.spoken))
	copy(out, m.spoken)
	return out
}

// CancelCount returns how many times Cancel has been called.
func (m *MockSynthesizer) CancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}
