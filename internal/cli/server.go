package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sessionhttp "github.com/aretw0/gridsession/pkg/adapters/http"
	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/session"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout gives outstanding requests a deadline for completion.
const shutdownTimeout = 5 * time.Second

// Handler returns the HTTP surface of the server:
//
//	/                      demo page counting visits in the session
//	/login?user=NAME       rotates the session ID and sets the principal
//	/logout                invalidates the session
//	<admin prefix>/...     session administration API
//	<metrics path>         Prometheus metrics
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Handle(a.Config.HTTP.MetricsPath, promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	r.Mount(a.Config.HTTP.AdminPrefix, sessionhttp.NewAdminRouter(a.Repository, a.Streams, a.Logger))

	r.Group(func(r chi.Router) {
		r.Use(sessionhttp.Middleware(a.Repository,
			sessionhttp.WithResolver(a.resolver()),
			sessionhttp.WithLogger(a.Logger),
		))
		r.Get("/", handleVisit)
		r.Get("/login", handleLogin)
		r.Get("/logout", handleLogout)
	})
	return r
}

func (a *App) resolver() sessionhttp.SessionIDResolver {
	if a.Config.HTTP.Transport == "header" {
		return sessionhttp.NewHeaderResolver(a.Config.HTTP.HeaderName)
	}
	c := sessionhttp.NewCookieResolver(a.Config.HTTP.CookieName)
	c.Secure = a.Config.HTTP.CookieSecure
	return c
}

func handleVisit(w http.ResponseWriter, r *http.Request) {
	s, err := sessionhttp.FromRequest(r, true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	visits, _, err := session.AttributeAs[int](s, "visits")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	visits++
	if err := s.SetAttribute("visits", visits); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	user := s.PrincipalName()
	if user == "" {
		user = "anonymous"
	}
	fmt.Fprintf(w, "session %s\nuser %s\nvisits %d\n", s.ID(), user, visits)
}

func handleLogin(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}
	s, err := sessionhttp.FromRequest(r, true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Session fixation: a login always gets a fresh ID.
	s.ChangeSessionID()
	if err := s.SetAttribute(domain.SecurityContextAttribute, domain.SecurityContext{Principal: user}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "logged in as %s\n", user)
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := sessionhttp.Invalidate(r); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintln(w, "logged out")
}

// Serve starts the repository and serves Handler until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Repository.Start(ctx); err != nil {
		return fmt.Errorf("failed to start repository: %w", err)
	}

	srv := &http.Server{
		Addr:              a.Config.HTTP.Address,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		a.Logger.Info("Starting gridsession server",
			"addr", srv.Addr,
			"store", a.Config.Session.Store,
			"server_side_updates", a.Repository.ServerSideUpdatesEnabled(),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		a.Logger.Info("Shutting down gridsession server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Asking listener to shut down and shed load.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
			if err := srv.Close(); err != nil {
				return fmt.Errorf("failed to close server: %w", err)
			}
		}
		return nil
	}
}
