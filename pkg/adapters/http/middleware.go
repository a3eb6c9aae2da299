package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/gridsession/internal/logging"
	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/session"
)

// ErrNoMiddleware is returned by FromRequest for requests that did not pass through Middleware.
var ErrNoMiddleware = errors.New("request was not handled by the session middleware")

type contextKey struct{}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	resolver SessionIDResolver
	logger   *slog.Logger
}

// WithResolver sets how session IDs travel between client and server.
func WithResolver(resolver SessionIDResolver) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.resolver = resolver
	}
}

// WithLogger configures a logger for commit failures.
func WithLogger(logger *slog.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.logger = logger
	}
}

// Middleware makes sessions from repo available to handlers through FromRequest.
//
// The requested session is loaded lazily on the first FromRequest call and its
// last access time is set to now. Changes are saved right before the response
// is first written, and again when the handler returns if it changed the
// session after writing. The session ID is sent to the client when it is new
// or changed, as long as the headers have not gone out yet.
func Middleware(repo *session.Repository, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{
		resolver: NewCookieResolver(DefaultCookieName),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := &requestSession{
				repo:        repo,
				cfg:         cfg,
				requestedID: cfg.resolver.Resolve(r),
			}
			r = r.WithContext(context.WithValue(r.Context(), contextKey{}, state))
			state.r = r

			cw := &commitWriter{ResponseWriter: w, state: state}
			defer state.finish(w)
			next.ServeHTTP(cw, r)
		})
	}
}

// FromRequest returns the session of the request. Without a valid requested
// session it returns nil, or a new session when create is true.
func FromRequest(r *http.Request, create bool) (*session.Session, error) {
	state, ok := r.Context().Value(contextKey{}).(*requestSession)
	if !ok {
		return nil, ErrNoMiddleware
	}
	return state.get(create)
}

// Invalidate deletes the session of the request. The client is told to forget
// its session ID unless a new session is created afterwards.
func Invalidate(r *http.Request) error {
	state, ok := r.Context().Value(contextKey{}).(*requestSession)
	if !ok {
		return ErrNoMiddleware
	}
	return state.invalidate()
}

// requestSession is the per-request session state. Requests are handled on
// one goroutine, so it is not locked.
type requestSession struct {
	repo *session.Repository
	cfg  *middlewareConfig
	r    *http.Request

	requestedID string
	looked      bool
	current     *session.Session
	invalidated bool
	committed   bool
}

func (s *requestSession) get(create bool) (*session.Session, error) {
	if s.current != nil {
		return s.current, nil
	}
	ctx := s.r.Context()

	if !s.looked && s.requestedID != "" && !s.invalidated {
		s.looked = true
		found, err := s.repo.FindByID(ctx, s.requestedID)
		switch {
		case err == nil:
			if err := found.SetLastAccessedTime(time.Now()); err != nil {
				return nil, err
			}
			s.current = found
			return found, nil
		case !errors.Is(err, domain.ErrSessionNotFound):
			return nil, err
		}
	}

	if !create {
		return nil, nil
	}
	created, err := s.repo.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	s.current = created
	return created, nil
}

func (s *requestSession) invalidate() error {
	id := s.requestedID
	if s.current != nil {
		id = s.current.ID()
	}
	s.current = nil
	s.invalidated = true
	if id == "" {
		return nil
	}
	return s.repo.DeleteByID(s.r.Context(), id)
}

// finish runs when the handler returns. Changes made after the response
// started are saved here; Save is a no-op for an unchanged session.
func (s *requestSession) finish(w http.ResponseWriter) {
	if !s.committed {
		s.commit(w)
		return
	}
	if s.current == nil {
		return
	}
	if err := s.repo.Save(s.r.Context(), s.current); err != nil {
		s.cfg.logger.Error("Failed to save session", "session_id", s.current.ID(), "err", err)
	}
}

// commit saves the session and updates the client before the headers go out.
// It runs once per request.
func (s *requestSession) commit(w http.ResponseWriter) {
	if s.committed {
		return
	}
	s.committed = true

	if s.current == nil {
		if s.invalidated && s.requestedID != "" {
			s.cfg.resolver.Expire(w, s.r)
		}
		return
	}

	if err := s.repo.Save(s.r.Context(), s.current); err != nil {
		s.cfg.logger.Error("Failed to save session", "session_id", s.current.ID(), "err", err)
		return
	}
	if s.current.ID() != s.requestedID {
		s.cfg.resolver.Write(w, s.r, s.current.ID())
	}
}

// commitWriter commits the session before the response headers go out.
type commitWriter struct {
	http.ResponseWriter
	state *requestSession
}

func (w *commitWriter) commit() {
	w.state.commit(w.ResponseWriter)
}

func (w *commitWriter) WriteHeader(code int) {
	w.commit()
	w.ResponseWriter.WriteHeader(code)
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *commitWriter) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *commitWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
