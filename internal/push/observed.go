package push

import (
	"context"
	"time"
)

// SendObserver records push latency and outcome.
type SendObserver interface {
	ObservePushSend(duration time.Duration, err error)
}

// ObservedTransport reports every send to an observer.
type ObservedTransport struct {
	next     Transport
	observer SendObserver
	now      func() time.Time
}

func NewObservedTransport(next Transport, observer SendObserver) *ObservedTransport {
	return &ObservedTransport{next: next, observer: observer, now: time.Now}
}

func (t *ObservedTransport) Send(ctx context.Context, destination string, payload Payload) error {
	start := t.now()
	err := t.next.Send(ctx, destination, payload)
	if t.observer != nil {
		t.observer.ObservePushSend(t.now().Sub(start), err)
	}
	return err
}
