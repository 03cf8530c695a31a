package till

import (
	"sync"

	"tillprint/internal/receipt"
)

// MemoryStore is a Store that forgets everything on exit
type MemoryStore struct {
	mu     sync.Mutex
	sent   map[string]receipt.SentState
	device string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sent: map[string]receipt.SentState{}}
}

func (m *MemoryStore) Sent(orderID string) (receipt.SentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := receipt.SentState{}
	state.Apply(m.sent[orderID])
	return state, nil
}

func (m *MemoryStore) MarkSent(orderID string, marks receipt.SentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.sent[orderID]
	if !ok {
		state = receipt.SentState{}
		m.sent[orderID] = state
	}
	state.Apply(marks)
	return nil
}

func (m *MemoryStore) LastDevice() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device, nil
}

func (m *MemoryStore) SetLastDevice(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = name
	return nil
}
