package printer

import (
	"fmt"
	"sync"
)

// State is the connection lifecycle stage
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	GaveUp
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case GaveUp:
		return "gave up"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is what observers see on every transition
type Status struct {
	State     State
	Attempt   int // meaningful in Reconnecting only
	Connected bool
	Device    string
	Message   string
	Err       error
}

func (s Status) String() string {
	if s.State == Reconnecting {
		return fmt.Sprintf("%s(%d)", s.State, s.Attempt)
	}
	return s.State.String()
}

// Observer receives connection status changes. Calls happen outside the
// manager's lock, so an observer may call back into the manager.
type Observer interface {
	OnStatus(Status)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Status)

func (f ObserverFunc) OnStatus(s Status) { f(s) }

type observers struct {
	mu   sync.Mutex
	next int
	subs map[int]Observer
}

func (o *observers) add(obs Observer) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.subs[id] = obs

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}

func (o *observers) publish(s Status) {
	o.mu.Lock()
	snapshot := make([]Observer, 0, len(o.subs))
	// registration order
	for i := 0; i < o.next; i++ {
		if obs, ok := o.subs[i]; ok {
			snapshot = append(snapshot, obs)
		}
	}
	o.mu.Unlock()

	for _, obs := range snapshot {
		obs.OnStatus(s)
	}
}
