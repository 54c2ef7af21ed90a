package extension

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ErrorHandler is the operator-supplied sink for advisory hook failures and
// other non-fatal error conditions.
type ErrorHandler func(source string, err error)

// Pipeline is the ordered chain of Extensions, pre-sorted once per hook at
// construction time.
type Pipeline struct {
	log     *zap.Logger
	onError ErrorHandler

	connect            []ConnectHook
	authenticate       []AuthenticateHook
	createDocument     []CreateDocumentHook
	loadDocument       []LoadDocumentHook
	afterLoadDocument  []AfterLoadDocumentHook
	change             []ChangeHook
	storeDocument      []StoreDocumentHook
	afterStoreDocument []AfterStoreDocumentHook
	beforeUnload       []BeforeUnloadDocumentHook
	afterUnload        []AfterUnloadDocumentHook
	disconnect         []DisconnectHook
	destroy            []DestroyHook
}

// New builds a Pipeline from exts, sorted by ascending Priority (lower runs
// first) independently per hook. onError receives every advisory hook
// failure; it may be nil, in which case failures are only logged (and not
// even that when log is nil).
func New(exts []Extension, onError ErrorHandler, log *zap.Logger) *Pipeline {
	sorted := make([]Extension, len(exts))
	copy(sorted, exts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	p := &Pipeline{log: log, onError: onError}
	for _, e := range sorted {
		if h, ok := e.(ConnectHook); ok {
			p.connect = append(p.connect, h)
		}
		if h, ok := e.(AuthenticateHook); ok {
			p.authenticate = append(p.authenticate, h)
		}
		if h, ok := e.(CreateDocumentHook); ok {
			p.createDocument = append(p.createDocument, h)
		}
		if h, ok := e.(LoadDocumentHook); ok {
			p.loadDocument = append(p.loadDocument, h)
		}
		if h, ok := e.(AfterLoadDocumentHook); ok {
			p.afterLoadDocument = append(p.afterLoadDocument, h)
		}
		if h, ok := e.(ChangeHook); ok {
			p.change = append(p.change, h)
		}
		if h, ok := e.(StoreDocumentHook); ok {
			p.storeDocument = append(p.storeDocument, h)
		}
		if h, ok := e.(AfterStoreDocumentHook); ok {
			p.afterStoreDocument = append(p.afterStoreDocument, h)
		}
		if h, ok := e.(BeforeUnloadDocumentHook); ok {
			p.beforeUnload = append(p.beforeUnload, h)
		}
		if h, ok := e.(AfterUnloadDocumentHook); ok {
			p.afterUnload = append(p.afterUnload, h)
		}
		if h, ok := e.(DisconnectHook); ok {
			p.disconnect = append(p.disconnect, h)
		}
		if h, ok := e.(DestroyHook); ok {
			p.destroy = append(p.destroy, h)
		}
	}
	return p
}

func (p *Pipeline) advisory(source string, err error) {
	if err == nil {
		return
	}
	if p.log != nil {
		p.log.Warn("advisory hook failed", zap.String("hook", source), zap.Error(err))
	}
	if p.onError != nil {
		p.onError(source, err)
	}
}

// RequiresAuthentication reports whether any extension implements
// AuthenticateHook, so a caller (the server orchestrator) knows whether to
// hold a connection's Context open past onConnect and wait for an AUTH
// frame before locking it.
func (p *Pipeline) RequiresAuthentication() bool {
	return len(p.authenticate) > 0
}

// RunConnect drives onConnect. Mandatory: a Reject halts connection setup.
func (p *Pipeline) RunConnect(ctx *Context) error {
	for _, h := range p.connect {
		if out := h.OnConnect(ctx); !out.Accepted() {
			return fmt.Errorf("onConnect rejected: %w", out.Reason())
		}
	}
	return nil
}

// RunAuthenticate drives onAuthenticate. Mandatory: a Reject closes the
// connection.
func (p *Pipeline) RunAuthenticate(ctx *Context, token string) error {
	for _, h := range p.authenticate {
		if out := h.OnAuthenticate(ctx, token); !out.Accepted() {
			return fmt.Errorf("onAuthenticate rejected: %w", out.Reason())
		}
	}
	return nil
}

// RunCreateDocument drives onCreateDocument (advisory).
func (p *Pipeline) RunCreateDocument(doc DocumentRef, ctx *Context) {
	for _, h := range p.createDocument {
		p.advisory("onCreateDocument", h.OnCreateDocument(doc, ctx))
	}
}

// RunLoadDocument drives onLoadDocument. Mandatory: a Reject fails the
// load. Every accepted hook that supplies a payload gets it delivered to
// applyPayload immediately, in chain order, with origin = storage.
func (p *Pipeline) RunLoadDocument(doc DocumentRef, ctx *Context, applyPayload func([]byte)) error {
	for _, h := range p.loadDocument {
		out := h.OnLoadDocument(doc, ctx)
		if !out.Accepted() {
			return fmt.Errorf("onLoadDocument rejected: %w", out.Reason())
		}
		if payload := out.Payload(); len(payload) > 0 && applyPayload != nil {
			applyPayload(payload)
		}
	}
	return nil
}

// RunAfterLoadDocument drives afterLoadDocument. Advisory in general, but
// the errors are also returned to the caller so it can record a
// degraded-dependency state; the pipeline itself still continues the rest
// of the chain rather than halting the load.
func (p *Pipeline) RunAfterLoadDocument(doc DocumentRef, ctx *Context) []error {
	var errs []error
	for _, h := range p.afterLoadDocument {
		if err := h.AfterLoadDocument(doc, ctx); err != nil {
			p.advisory("afterLoadDocument", err)
			errs = append(errs, err)
		}
	}
	return errs
}

// RunChange drives onChange (advisory) for every committed update.
func (p *Pipeline) RunChange(doc DocumentRef, ctx *Context, update []byte, origin string) {
	for _, h := range p.change {
		p.advisory("onChange", h.OnChange(doc, ctx, update, origin))
	}
}

// RunStoreDocument drives onStoreDocument (advisory): each hook may
// transform the bytes actually persisted; a failing hook's transform is
// skipped and the previous bytes carry forward.
func (p *Pipeline) RunStoreDocument(doc DocumentRef, ctx *Context, state []byte) []byte {
	for _, h := range p.storeDocument {
		out := h.OnStoreDocument(doc, ctx, state)
		if !out.Accepted() {
			p.advisory("onStoreDocument", out.Reason())
			continue
		}
		if payload := out.Payload(); payload != nil {
			state = payload
		}
	}
	return state
}

// RunAfterStoreDocument drives afterStoreDocument (advisory).
func (p *Pipeline) RunAfterStoreDocument(doc DocumentRef, ctx *Context) {
	for _, h := range p.afterStoreDocument {
		p.advisory("afterStoreDocument", h.AfterStoreDocument(doc, ctx))
	}
}

// RunBeforeUnloadDocument drives beforeUnloadDocument (advisory).
func (p *Pipeline) RunBeforeUnloadDocument(doc DocumentRef) {
	for _, h := range p.beforeUnload {
		p.advisory("beforeUnloadDocument", h.BeforeUnloadDocument(doc))
	}
}

// RunAfterUnloadDocument drives afterUnloadDocument (advisory).
func (p *Pipeline) RunAfterUnloadDocument(name string) {
	for _, h := range p.afterUnload {
		p.advisory("afterUnloadDocument", h.AfterUnloadDocument(name))
	}
}

// RunDisconnect drives onDisconnect (advisory).
func (p *Pipeline) RunDisconnect(ctx *Context) {
	for _, h := range p.disconnect {
		p.advisory("onDisconnect", h.OnDisconnect(ctx))
	}
}

// RunDestroy drives onDestroy (advisory), in pipeline order, during server
// shutdown.
func (p *Pipeline) RunDestroy() {
	for _, h := range p.destroy {
		p.advisory("onDestroy", h.OnDestroy())
	}
}
