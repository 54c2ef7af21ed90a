// Package extension implements the ordered async hook chain: a
// priority-sorted list of Extensions, each exposing a subset of named
// hooks, invoked around the connection and document lifecycle. Ordering is
// fixed once at construction time and reused for every dispatch; a hook
// that fails a non-fatal stage is logged and the chain continues.
package extension

import "errors"

// outcomeKind tags a HookOutcome, replacing exception-for-control-flow
// with an explicit sum type.
type outcomeKind byte

const (
	outcomeContinue outcomeKind = iota
	outcomeContinueWithPayload
	outcomeReject
)

// HookOutcome is the return value of a mandatory-chain hook:
// {Continue, ContinueWithPayload(bytes), Reject(reason)}.
type HookOutcome struct {
	kind    outcomeKind
	payload []byte
	reason  error
}

// Continue proceeds to the next hook with no payload.
func Continue() HookOutcome { return HookOutcome{kind: outcomeContinue} }

// ContinueWithPayload proceeds to the next hook, supplying payload to the
// caller (interpretation is hook-specific: bytes to apply during load,
// bytes to persist during store).
func ContinueWithPayload(payload []byte) HookOutcome {
	return HookOutcome{kind: outcomeContinueWithPayload, payload: payload}
}

// Reject halts the surrounding mandatory operation with reason.
func Reject(reason error) HookOutcome {
	if reason == nil {
		reason = errors.New("extension: rejected")
	}
	return HookOutcome{kind: outcomeReject, reason: reason}
}

// Accepted reports whether the chain should continue.
func (o HookOutcome) Accepted() bool { return o.kind != outcomeReject }

// Payload returns any bytes the hook supplied; nil if none.
func (o HookOutcome) Payload() []byte { return o.payload }

// Reason returns the rejection error; nil unless Accepted is false.
func (o HookOutcome) Reason() error { return o.reason }

// DocumentRef is the read-only view of a Document handed to document
// lifecycle hooks. It is satisfied by internal/document.Document without
// that package needing to import this one for anything but this interface,
// avoiding an import cycle between the pipeline and its busiest caller.
type DocumentRef interface {
	Name() string
}

// Extension is implemented by every pipeline component. Priority controls
// ordering within a hook's chain: lower priority runs first. An Extension
// implements ConnectHook, ChangeHook, etc. selectively — the pipeline
// detects which hooks it supports via type assertion at construction time,
// the same "implement only the interfaces you need" idiom net/http and
// database/sql drivers use for optional behavior.
type Extension interface {
	Name() string
	Priority() int
}

// ─────────────────────────────────────────────────────────────
// Per-hook interfaces. An Extension implements zero or more of these.
// ─────────────────────────────────────────────────────────────

type ConnectHook interface {
	OnConnect(ctx *Context) HookOutcome
}

type AuthenticateHook interface {
	OnAuthenticate(ctx *Context, token string) HookOutcome
}

type CreateDocumentHook interface {
	OnCreateDocument(doc DocumentRef, ctx *Context) error
}

type LoadDocumentHook interface {
	OnLoadDocument(doc DocumentRef, ctx *Context) HookOutcome
}

type AfterLoadDocumentHook interface {
	AfterLoadDocument(doc DocumentRef, ctx *Context) error
}

type ChangeHook interface {
	OnChange(doc DocumentRef, ctx *Context, update []byte, origin string) error
}

type StoreDocumentHook interface {
	OnStoreDocument(doc DocumentRef, ctx *Context, state []byte) HookOutcome
}

type AfterStoreDocumentHook interface {
	AfterStoreDocument(doc DocumentRef, ctx *Context) error
}

type BeforeUnloadDocumentHook interface {
	BeforeUnloadDocument(doc DocumentRef) error
}

type AfterUnloadDocumentHook interface {
	AfterUnloadDocument(name string) error
}

type DisconnectHook interface {
	OnDisconnect(ctx *Context) error
}

type DestroyHook interface {
	OnDestroy() error
}
