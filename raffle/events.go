package raffle

import (
	"sync"

	"go.dedis.ch/kyber/v3"
)

// Event kinds published by the raffle service.
const (
	EventEntered       = "entered"
	EventDrawRequested = "draw-requested"
	EventWinnerPicked  = "winner-picked"
)

// Event is an in-process notification about a raffle transition. Only the
// fields of the respective kind are set.
type Event struct {
	Kind      string
	Player    kyber.Point
	RequestID []byte
	Winner    kyber.Point
	Payout    uint64
}

// Observer receives raffle events on a buffered channel. A slow observer
// misses events instead of blocking the service.
type Observer struct {
	ch chan Event
}

func (o *Observer) Chan() <-chan Event {
	return o.ch
}

type broadcaster struct {
	sync.Mutex
	observers map[*Observer]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{observers: make(map[*Observer]struct{})}
}

func (b *broadcaster) register() *Observer {
	b.Lock()
	defer b.Unlock()
	o := &Observer{ch: make(chan Event, 4)}
	b.observers[o] = struct{}{}
	return o
}

func (b *broadcaster) unregister(o *Observer) {
	b.Lock()
	defer b.Unlock()
	if _, ok := b.observers[o]; ok {
		delete(b.observers, o)
		close(o.ch)
	}
}

func (b *broadcaster) broadcast(evt Event) {
	b.Lock()
	defer b.Unlock()
	for o := range b.observers {
		select {
		case o.ch <- evt:
		default:
		}
	}
}
