/*
Package gridsession keeps HTTP sessions in a shared store so that every replica
of a web application sees the same session state.

A session is a record of an ID, creation and last-access times, an inactivity
timeout and a set of named attributes. Replicas load sessions by ID, track what
changed during a request and write back only that delta, either atomically on
the server with a Lua script or, when scripting is unavailable, by loading and
replacing the record under a lock.

# Concept

The store keeps a secondary index from principal name (the authenticated user)
to session IDs, expires idle sessions, and publishes created, deleted and
expired events that every replica receives. The Repository turns those events
into calls on an EventPublisher and runs the expiry sweep.

	store (Redis hash per session, expiry ZSET, principal ZSETs, Pub/Sub)
	  └── Repository (delta tracking, save modes, locking, sweeping)
	        └── HTTP middleware (cookie or header session IDs)

# Usage

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	repo, err := gridsession.New(client,
		gridsession.WithRepositoryOptions(
			session.WithDefaultMaxInactiveInterval(30*time.Minute),
			session.WithFlushMode(domain.FlushOnSave),
		),
	)
	if err != nil {
		log.Fatal(err)
	}
	if err := repo.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s, err := sessionhttp.FromRequest(r, true)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = s.SetAttribute("visits", 1)
	})
	http.ListenAndServe(":8080", sessionhttp.Middleware(repo)(mux))

The gridsession command runs the same stack as a server and inspects sessions
from the shell; see cmd/gridsession.
*/
package gridsession
