package testutil

import (
	"sync"

	"github.com/devaloi/relay/internal/protocol"
)

// MockMember implements hub.Member for testing.
type MockMember struct {
	Name string

	mu    sync.Mutex
	lines [][]byte
	fail  error
}

// NewMockMember creates a MockMember with the given nickname.
func NewMockMember(name string) *MockMember {
	return &MockMember{Name: name}
}

// Nick returns the mock member's nickname.
func (m *MockMember) Nick() string { return m.Name }

// WriteLine records a delivered line, or returns the configured failure.
func (m *MockMember) WriteLine(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.lines = append(m.lines, cp)
	return nil
}

// FailWith makes every subsequent WriteLine return err, simulating a
// peer whose connection has died.
func (m *MockMember) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Lines returns a copy of all lines delivered to the member.
func (m *MockMember) Lines() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([][]byte, len(m.lines))
	copy(cp, m.lines)
	return cp
}

// Envelopes decodes and returns all lines delivered to the member.
func (m *MockMember) Envelopes() []protocol.Envelope {
	lines := m.Lines()
	envs := make([]protocol.Envelope, 0, len(lines))
	for _, l := range lines {
		env, err := protocol.Decode(l)
		if err != nil {
			continue
		}
		envs = append(envs, env)
	}
	return envs
}
