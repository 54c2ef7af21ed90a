// Package server implements the server orchestrator: it owns the
// registry, the shared extension pipeline, and every live connection, and
// drives one ClientConnection through its full lifecycle — accept,
// onConnect, onAuthenticate, frame dispatch by wire.Kind, disconnect — for
// every transport session handed to it. One goroutine-safe orchestrator
// owns every live connection behind a ServeHTTP-compatible accept path,
// routing to a registry-backed, multi-document core.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/polqt/yhub/internal/awareness"
	"github.com/polqt/yhub/internal/document"
	"github.com/polqt/yhub/internal/extension"
	"github.com/polqt/yhub/internal/registry"
	"github.com/polqt/yhub/internal/transport/ws"
	"github.com/polqt/yhub/internal/wire"
	"github.com/polqt/yhub/internal/ycrdt"
)

// Config bundles the orchestrator's own tunables, separate from
// registry.Config's per-document lifecycle durations.
type Config struct {
	MaxFrameSize     int
	AwarenessTimeout time.Duration
	ShutdownTimeout  time.Duration
}

// Server accepts WebSocket sessions, authenticates them through the
// extension pipeline, and routes their frames to the Document Registry.
type Server struct {
	reg      *registry.Registry
	pipeline *extension.Pipeline
	cfg      Config
	log      *zap.Logger

	mu    sync.Mutex
	conns map[string]*document.Connection
}

// New builds a Server around an already-constructed Registry and Pipeline
// (both shared with whatever else — e.g. a Cluster Bridge registered as an
// extension — needs them).
func New(reg *registry.Registry, pipeline *extension.Pipeline, cfg Config, log *zap.Logger) *Server {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	if cfg.AwarenessTimeout <= 0 {
		cfg.AwarenessTimeout = awareness.DefaultTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		reg:      reg,
		pipeline: pipeline,
		cfg:      cfg,
		log:      log,
		conns:    make(map[string]*document.Connection),
	}
}

// ServeHTTP upgrades the request to a WebSocket and drives the resulting
// session until it closes — ServeHTTP is the whole connection lifetime.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tr, err := ws.Accept(w, r, s.log)
	if err != nil {
		if s.log != nil {
			s.log.Warn("websocket upgrade failed", zap.Error(err))
		}
		return
	}
	s.handleSession(tr)
}

func (s *Server) handleSession(tr *ws.Transport) {
	connID := "conn:" + ycrdt.NewGUID()
	conn := document.NewConnection(connID, tr)

	s.mu.Lock()
	s.conns[connID] = conn
	s.mu.Unlock()

	if err := s.pipeline.RunConnect(conn.Ctx); err != nil {
		if s.log != nil {
			s.log.Info("onConnect rejected session", zap.String("connection", connID), zap.Error(err))
		}
		conn.Ctx.Lock()
		s.removeConnection(connID)
		tr.Close()
		return
	}
	// A deployment with no AuthenticateHook has nothing left to gate on —
	// lock the context now rather than waiting for an AUTH frame that will
	// never arrive.
	if !s.pipeline.RequiresAuthentication() {
		conn.Ctx.Lock()
	}

	tr.Listen(
		func(data []byte) { s.handleFrame(conn, data) },
		func() { s.closeSession(conn) },
	)
}

func (s *Server) handleFrame(conn *document.Connection, data []byte) {
	name, kind, payload, err := wire.Decode(data, s.cfg.MaxFrameSize)
	if err != nil {
		if s.log != nil {
			s.log.Debug("dropping malformed frame", zap.String("connection", conn.ID), zap.Error(err))
		}
		return
	}

	switch kind {
	case wire.KindAuth:
		s.handleAuth(conn, payload)
	case wire.KindSync:
		s.handleSync(conn, name, payload)
	case wire.KindAwareness:
		s.handleAwareness(conn, name, payload)
	case wire.KindQueryAwareness:
		s.handleQueryAwareness(conn, name)
	case wire.KindStateless, wire.KindBroadcastStateless:
		// Opaque application messages: no server-side semantics beyond
		// framing. A deployment that needs them wires a dedicated
		// extension hook; the orchestrator itself just ignores them.
	default:
		if s.log != nil {
			s.log.Debug("unhandled frame kind", zap.String("connection", conn.ID), zap.String("kind", kind.String()))
		}
	}
}

func (s *Server) handleAuth(conn *document.Connection, payload []byte) {
	token, err := wire.DecodeAuthPayload(payload)
	if err != nil {
		return
	}
	if err := s.pipeline.RunAuthenticate(conn.Ctx, token); err != nil {
		if s.log != nil {
			s.log.Info("onAuthenticate rejected session", zap.String("connection", conn.ID), zap.Error(err))
		}
		conn.Ctx.Lock()
		s.disconnect(conn)
		return
	}
	conn.Ctx.Lock()
}

func (s *Server) handleSync(conn *document.Connection, name string, payload []byte) {
	doc, err := s.reg.GetOrCreate(context.Background(), name)
	if err != nil {
		if s.log != nil {
			s.log.Warn("document load failed", zap.String("document", name), zap.Error(err))
		}
		return
	}

	if !attachedTo(conn, name) {
		if err := s.attach(conn, doc); err != nil {
			if s.log != nil {
				s.log.Debug("attach failed", zap.String("document", name), zap.String("connection", conn.ID), zap.Error(err))
			}
			return
		}
	}

	if err := doc.HandleSyncMessage(conn.ID, payload); err != nil && s.log != nil {
		s.log.Debug("sync message handling failed", zap.String("document", name), zap.String("connection", conn.ID), zap.Error(err))
	}
}

// attach retries once through the registry if the document raced into
// UNLOADING between GetOrCreate and Attach (the documented race), by
// which point a fresh GetOrCreate observes it as gone and loads anew.
func (s *Server) attach(conn *document.Connection, doc *document.Document) error {
	err := doc.Attach(conn)
	if err != document.ErrUnloading {
		return err
	}
	fresh, ferr := s.reg.GetOrCreate(context.Background(), doc.Name())
	if ferr != nil {
		return ferr
	}
	return fresh.Attach(conn)
}

func (s *Server) handleAwareness(conn *document.Connection, name string, payload []byte) {
	doc, err := s.reg.GetOrCreate(context.Background(), name)
	if err != nil {
		return
	}
	update, err := wire.DecodeAwarenessPayload(payload)
	if err != nil {
		return
	}
	entries, err := awareness.DecodeUpdate(update)
	if err != nil {
		return
	}
	doc.ApplyAwareness(conn.ID, entries)
}

func (s *Server) handleQueryAwareness(conn *document.Connection, name string) {
	doc, err := s.reg.GetOrCreate(context.Background(), name)
	if err != nil {
		return
	}
	snapshot := doc.AwarenessSnapshot()
	frame := wire.Encode(name, wire.KindAwareness, wire.EncodeAwarenessPayload(awareness.EncodeUpdate(snapshot)))
	_ = conn.Send(frame)
}

// disconnect runs the onDisconnect hook and tears down every document
// attachment for conn without closing its transport (used when a
// mandatory hook rejects a session mid-handshake).
func (s *Server) disconnect(conn *document.Connection) {
	for _, name := range conn.DetachAll() {
		if doc, ok := s.resident(name); ok {
			doc.Detach(conn.ID)
		}
	}
	s.pipeline.RunDisconnect(conn.Ctx)
}

func (s *Server) closeSession(conn *document.Connection) {
	conn.Close()
	s.disconnect(conn)
	s.removeConnection(conn.ID)
}

func (s *Server) resident(name string) (*document.Document, bool) {
	return s.reg.Lookup(name)
}

func (s *Server) removeConnection(connID string) {
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
}

func attachedTo(conn *document.Connection, name string) bool {
	for _, n := range conn.AttachedDocuments() {
		if n == name {
			return true
		}
	}
	return false
}

// RunAwarenessSweeper periodically tombstones stale awareness entries on
// every resident document, until ctx is canceled.
func (s *Server) RunAwarenessSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.cfg.AwarenessTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range s.reg.Resident() {
				if doc, ok := s.resident(name); ok {
					doc.CheckAwarenessStale()
				}
			}
		}
	}
}

// Shutdown drains every live connection, force-unloads every resident
// document, and runs onDestroy — in that order, so in-flight saves
// triggered by the unload sequence still have a live scheduler to flush
// through.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*document.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
		s.disconnect(c)
	}

	done := make(chan struct{})
	go func() {
		s.reg.ForceUnloadAll()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("server: shutdown timed out waiting for documents to unload: %w", ctx.Err())
	}

	s.pipeline.RunDestroy()
	return nil
}
