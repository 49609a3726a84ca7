package host

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/odvcencio/visitbridge/pkg/dispatch"
	"github.com/odvcencio/visitbridge/pkg/progress"
	"github.com/odvcencio/visitbridge/pkg/renderer/remote"
	"github.com/odvcencio/visitbridge/pkg/visit"
)

// handleRenderer attaches a renderer agent. The agent may ask for a session
// id with ?session= and a navigation context with ?context=; an optional
// ?location= starts the first visit as soon as the session exists.
func (s *Server) handleRenderer(w http.ResponseWriter, r *http.Request) {
	rcfg := s.cfg.Renderer
	rcfg.AllowedOrigins = append(append([]string(nil), rcfg.AllowedOrigins...), s.cfg.AllowedOrigins...)
	conn, err := remote.Accept(w, r, rcfg, s.logger)
	if err != nil {
		s.logger.Warn("renderer upgrade failed", "error", err)
		return
	}

	s.conns.Add(1)
	defer s.conns.Done()

	q := r.URL.Query()
	contextKey := visit.ContextKey(strings.TrimSpace(q.Get("context")))
	if contextKey == "" {
		contextKey = s.cfg.DefaultContext
	}

	sess, loop, err := s.attach(conn, strings.TrimSpace(q.Get("session")), contextKey)
	if err != nil {
		s.logger.Warn("renderer rejected", "conn_id", conn.ID(), "error", err)
		conn.Close()
		return
	}
	defer loop.Stop()

	if location := strings.TrimSpace(q.Get("location")); location != "" {
		_ = loop.Post(func() {
			if err := sess.Visit(location); err != nil {
				s.logger.Warn("initial visit failed", "session_id", sess.ID(), "error", err)
			}
		})
	}

	s.logger.RendererAttached(sess.ID(), conn.ID())
	serveErr := conn.Serve(r.Context())
	s.detach(sess)
	s.logger.RendererDetached(sess.ID(), conn.ID(), serveErr)
}

// attach creates the session for conn on a fresh owner loop and binds the
// host presentation to it.
func (s *Server) attach(conn *remote.Conn, id string, contextKey visit.ContextKey) (*visit.Session, *dispatch.Loop, error) {
	loop := dispatch.NewLoop(
		dispatch.WithMailboxSize(s.cfg.Renderer.MailboxSize),
		dispatch.WithPanicHandler(func(recovered any) {
			s.logger.Error("session owner context panicked", "conn_id", conn.ID(), "panic", fmt.Sprint(recovered))
		}),
	)
	loop.Start()

	opts := []visit.Option{
		visit.WithExecutor(loop),
		visit.WithSettings(s.cfg.Settings),
		visit.WithLogger(s.logger),
	}
	if s.hub != nil {
		opts = append(opts, visit.WithEvents(s.hub))
	}
	opts = append(opts, s.sessionOpts...)
	if id != "" {
		opts = append(opts, visit.WithID(id))
	}

	sess, err := s.registry.Create(conn, opts...)
	if err != nil {
		loop.Stop()
		return nil, nil, err
	}

	adapter := &sessionAdapter{
		session: sess,
		logger:  s.logger.WithSession(sess.ID()),
		follow:  s.cfg.FollowProposals,
	}
	presenterOpts := []progress.PresenterOption{}
	if s.hub != nil {
		presenterOpts = append(presenterOpts, progress.WithEvents(s.hub))
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()
	err = sess.Do(ctx, func() error {
		stage := progress.NewStage(string(contextKey), progress.NewPresenter(loop, conn, presenterOpts...), conn)
		sess.BindStage(stage).BindContext(contextKey).BindAdapter(adapter)
		return nil
	})
	if err != nil {
		_ = s.registry.Remove(sess.ID())
		loop.Stop()
		return nil, nil, err
	}

	s.mu.Lock()
	s.adapters[sess.ID()] = adapter
	s.mu.Unlock()
	return sess, loop, nil
}

// detach unregisters sess and waits for its Close to run on the owner loop.
func (s *Server) detach(sess *visit.Session) {
	s.mu.Lock()
	delete(s.adapters, sess.ID())
	s.mu.Unlock()

	if err := s.registry.Remove(sess.ID()); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = sess.Do(ctx, func() error { return nil })
}

func (s *Server) adapterFor(id string) *sessionAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapters[id]
}
