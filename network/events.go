package network

import "sync"

// Event is a connectivity transition published to subscribers.
type Event int

const (
	EventOffline Event = iota + 1
	EventOnline
)

func (e Event) String() string {
	switch e {
	case EventOffline:
		return "offline"
	case EventOnline:
		return "online"
	default:
		return "unknown"
	}
}

// broadcaster fans events out to buffered subscriber channels. A slow
// subscriber misses events rather than blocking the publisher.
type broadcaster struct {
	mu   sync.Mutex
	subs []chan Event
}

func (b *broadcaster) subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
