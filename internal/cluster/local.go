package cluster

import "sync"

// LocalPubSub is an in-process PubSub fake — every Publish is delivered
// synchronously to every current subscriber of the subject. Used by tests
// and by single-instance deployments that want the Cluster Bridge's code
// path exercised without a real broker.
type LocalPubSub struct {
	mu          sync.Mutex
	subs        map[string]map[int]func([]byte)
	nextID      int
	reconnectFn []func()
}

// NewLocalPubSub creates an empty in-process bus.
func NewLocalPubSub() *LocalPubSub {
	return &LocalPubSub{subs: make(map[string]map[int]func([]byte))}
}

func (l *LocalPubSub) Publish(subject string, data []byte) error {
	l.mu.Lock()
	handlers := make([]func([]byte), 0, len(l.subs[subject]))
	for _, h := range l.subs[subject] {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (l *LocalPubSub) Subscribe(subject string, handler func(data []byte)) (func(), error) {
	l.mu.Lock()
	if l.subs[subject] == nil {
		l.subs[subject] = make(map[int]func([]byte))
	}
	id := l.nextID
	l.nextID++
	l.subs[subject][id] = handler
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs[subject], id)
		l.mu.Unlock()
	}, nil
}

func (l *LocalPubSub) OnReconnect(fn func()) {
	l.mu.Lock()
	l.reconnectFn = append(l.reconnectFn, fn)
	l.mu.Unlock()
}

// SimulateReconnect invokes every registered reconnect handler, for tests.
func (l *LocalPubSub) SimulateReconnect() {
	l.mu.Lock()
	fns := make([]func(), len(l.reconnectFn))
	copy(fns, l.reconnectFn)
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
