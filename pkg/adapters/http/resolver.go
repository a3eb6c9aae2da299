package http

import (
	"net/http"
)

const (
	// DefaultCookieName is the cookie carrying the session ID.
	DefaultCookieName = "SESSION"
	// DefaultHeaderName is the header carrying the session ID for API clients.
	DefaultHeaderName = "X-Auth-Token"
)

// SessionIDResolver reads the session ID from requests and hands it to clients.
type SessionIDResolver interface {
	// Resolve returns the requested session ID, or "".
	Resolve(r *http.Request) string
	// Write tells the client its session ID.
	Write(w http.ResponseWriter, r *http.Request, id string)
	// Expire tells the client to forget its session ID.
	Expire(w http.ResponseWriter, r *http.Request)
}

// CookieResolver keeps the session ID in a cookie.
type CookieResolver struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// NewCookieResolver returns a resolver using an HttpOnly, SameSite=Lax cookie on path "/".
func NewCookieResolver(name string) *CookieResolver {
	if name == "" {
		name = DefaultCookieName
	}
	return &CookieResolver{
		Name:     name,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
}

func (c *CookieResolver) Resolve(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (c *CookieResolver) Write(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, c.cookie(id, 0))
}

func (c *CookieResolver) Expire(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, c.cookie("", -1))
}

func (c *CookieResolver) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.SameSite,
	}
}

// HeaderResolver exchanges the session ID in a request and response header.
type HeaderResolver struct {
	Name string
}

// NewHeaderResolver returns a resolver using the given header, DefaultHeaderName if empty.
func NewHeaderResolver(name string) *HeaderResolver {
	if name == "" {
		name = DefaultHeaderName
	}
	return &HeaderResolver{Name: name}
}

func (h *HeaderResolver) Resolve(r *http.Request) string {
	return r.Header.Get(h.Name)
}

func (h *HeaderResolver) Write(w http.ResponseWriter, r *http.Request, id string) {
	w.Header().Set(h.Name, id)
}

// Expire sends an empty header.
func (h *HeaderResolver) Expire(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(h.Name, "")
}
