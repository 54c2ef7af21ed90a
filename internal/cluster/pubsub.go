// Package cluster implements the cluster bridge: the extension that fans a
// document's locally-authored updates out to the rest of a cluster over a
// pub/sub transport, and applies updates published by peers back into the
// local document.
package cluster

// PubSub is the minimal cluster transport surface the bridge needs —
// narrower than a full message broker client so a test fake and the NATS
// binding can both satisfy it trivially.
type PubSub interface {
	// Publish delivers data to every current subscriber of subject.
	Publish(subject string, data []byte) error
	// Subscribe registers handler for subject, returning an unsubscribe
	// func. handler is invoked on an arbitrary goroutine.
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func(), err error)
	// OnReconnect registers fn to run every time the underlying transport
	// reestablishes connectivity after a disconnect — the signal the
	// bridge uses to force a resync of every subscribed document, since
	// messages published during the outage were missed.
	OnReconnect(fn func())
}
