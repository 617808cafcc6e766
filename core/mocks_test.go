package core

import (
	"context"
	"sync"
)

type publishRecord struct {
	destination string
	body        []byte
}

type fakeSub struct {
	transport   *fakeTransport
	destination string
}

func (s *fakeSub) Unsubscribe() error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	delete(s.transport.handlers, s.destination)
	s.transport.unsubscribed = append(s.transport.unsubscribed, s.destination)
	return nil
}

type fakeTransport struct {
	mu           sync.Mutex
	handlers     map[string]func(body []byte)
	subscribed   []string
	unsubscribed []string
	published    []publishRecord
	onClose      func(error)
	closed       bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(body []byte))}
}

func (t *fakeTransport) Subscribe(destination string, handler func(body []byte)) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[destination] = handler
	t.subscribed = append(t.subscribed, destination)
	return &fakeSub{transport: t, destination: destination}, nil
}

func (t *fakeTransport) Publish(destination string, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, publishRecord{destination: destination, body: body})
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) OnClose(f func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = f
}

// deliver simulates an inbound frame for destination.
func (t *fakeTransport) deliver(destination string, body []byte) {
	t.mu.Lock()
	handler := t.handlers[destination]
	t.mu.Unlock()
	if handler != nil {
		handler(body)
	}
}

// fail simulates an unsolicited connection loss.
func (t *fakeTransport) fail(cause error) {
	t.mu.Lock()
	onClose := t.onClose
	t.closed = true
	t.mu.Unlock()
	if onClose != nil {
		onClose(cause)
	}
}

func (t *fakeTransport) subscribeCount(destination string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, d := range t.subscribed {
		if d == destination {
			n++
		}
	}
	return n
}

func (t *fakeTransport) unsubscribeCount(destination string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, d := range t.unsubscribed {
		if d == destination {
			n++
		}
	}
	return n
}

// fakeDialer hands out fresh fake transports, optionally gated or failing.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	errs       []error
	gate       chan struct{}
	calls      int
}

func (d *fakeDialer) dial(ctx context.Context) (Transport, error) {
	d.mu.Lock()
	d.calls++
	gate := d.gate
	var err error
	if len(d.errs) > 0 {
		err = d.errs[0]
		d.errs = d.errs[1:]
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	t := newFakeTransport()
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDialer) dialCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}
