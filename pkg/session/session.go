package session

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/gridsession/pkg/domain"
)

// Session is a session loaded or created by a Repository.
// It records what changed since it was loaded so Save can write only that.
//
// A Session is not safe for concurrent use; it belongs to the request that
// loaded it. Mutators return an error only in immediate flush mode, where
// every change is saved straight away with the context the session was
// obtained with.
type Session struct {
	repo *Repository
	ctx  context.Context
	rec  *domain.Record

	originalID string
	isNew      bool

	idChanged           bool
	lastAccessedChanged bool
	intervalChanged     bool
	principalChanged    bool

	// delta maps attribute names to their new value; nil marks a removal.
	delta map[string]*domain.AttributeValue
}

func newSession(ctx context.Context, repo *Repository, rec *domain.Record, isNew bool) *Session {
	s := &Session{
		repo:       repo,
		ctx:        ctx,
		rec:        rec,
		originalID: rec.ID,
		isNew:      isNew,
		delta:      make(map[string]*domain.AttributeValue),
	}
	if isNew || repo.saveMode == domain.SaveAlways {
		for _, name := range rec.AttributeNames() {
			s.registerDelta(name, rec.Attribute(name))
		}
	}
	return s
}

// ID returns the current session ID.
func (s *Session) ID() string {
	return s.rec.ID
}

// ChangeSessionID assigns a fresh ID. The session is stored under it on the next Save.
func (s *Session) ChangeSessionID() string {
	s.rec.ID = s.repo.ids.Generate()
	s.idChanged = true
	return s.rec.ID
}

func (s *Session) CreationTime() time.Time {
	return s.rec.CreationTime
}

func (s *Session) LastAccessedTime() time.Time {
	return s.rec.LastAccessedTime
}

func (s *Session) SetLastAccessedTime(t time.Time) error {
	s.rec.LastAccessedTime = domain.Truncate(t)
	s.lastAccessedChanged = true
	return s.flushImmediateIfNecessary()
}

func (s *Session) MaxInactiveInterval() time.Duration {
	return s.rec.MaxInactiveInterval
}

// SetMaxInactiveInterval sets the inactivity timeout. A negative interval never expires.
func (s *Session) SetMaxInactiveInterval(d time.Duration) error {
	s.rec.MaxInactiveInterval = d
	s.intervalChanged = true
	return s.flushImmediateIfNecessary()
}

func (s *Session) IsExpired() bool {
	return s.rec.IsExpired(time.Now())
}

// IsNew reports whether the session has never been saved.
func (s *Session) IsNew() bool {
	return s.isNew
}

// PrincipalName returns the indexed principal, or "".
func (s *Session) PrincipalName() string {
	return s.rec.PrincipalName()
}

// Attribute returns the decoded attribute, or nil if it is not set.
// Values come back as the codec decodes them into an untyped value;
// use AttributeAs to decode into a concrete type.
func (s *Session) Attribute(name string) (any, error) {
	v := s.rec.Attribute(name)
	if v == nil {
		return nil, nil
	}
	obj, err := v.Object(s.repo.codec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attribute %s: %w", name, err)
	}
	if s.repo.saveMode == domain.SaveOnGetAttribute {
		s.registerDelta(name, v)
	}
	return obj, nil
}

// AttributeAs decodes the named attribute into T.
// It returns false when the attribute is not set.
func AttributeAs[T any](s *Session, name string) (T, bool, error) {
	var out T
	v := s.rec.Attribute(name)
	if v == nil {
		return out, false, nil
	}
	if s.repo.saveMode == domain.SaveOnGetAttribute {
		s.registerDelta(name, v)
	}
	if obj, ok := v.Cached(); ok {
		if typed, ok := obj.(T); ok {
			return typed, true, nil
		}
	}
	if v.Raw() == nil {
		return out, false, fmt.Errorf("attribute %s is not a %T", name, out)
	}
	if err := v.Decode(s.repo.codec, &out); err != nil {
		return out, false, fmt.Errorf("failed to decode attribute %s: %w", name, err)
	}
	return out, true, nil
}

// AttributeNames returns the attribute names in lexical order.
func (s *Session) AttributeNames() []string {
	return s.rec.AttributeNames()
}

// SetAttribute stores value under name; a nil value removes the attribute.
//
// The principal attributes accept only strings and change the session
// principal. Setting the security context re-resolves the principal through
// the repository's index resolver; clearing it clears the principal.
func (s *Session) SetAttribute(name string, value any) error {
	if value == nil {
		s.rec.RemoveAttribute(name)
		s.registerDelta(name, nil)
	} else {
		v, err := s.encode(name, value)
		if err != nil {
			return err
		}
		if err := s.rec.SetAttribute(name, v); err != nil {
			return fmt.Errorf("failed to set attribute %s: %w", name, err)
		}
		s.registerDelta(name, v)
	}

	if name == domain.SecurityContextAttribute {
		principal := ""
		if value != nil {
			principal = s.repo.indexResolver.ResolveIndexes(reader{s})[domain.PrincipalNameIndexName]
		}
		s.rec.SetPrincipalName(principal)
		s.principalChanged = true
	}
	return s.flushImmediateIfNecessary()
}

// RemoveAttribute is SetAttribute(name, nil).
func (s *Session) RemoveAttribute(name string) error {
	return s.SetAttribute(name, nil)
}

func (s *Session) encode(name string, value any) (*domain.AttributeValue, error) {
	if domain.IsPrincipalAttribute(name) {
		principal, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("failed to set attribute %s: %w", name, domain.ErrInvalidPrincipal)
		}
		return domain.StringValue(principal), nil
	}
	v, err := domain.EncodeAttributeValue(s.repo.codec, value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attribute %s: %w", name, err)
	}
	return v, nil
}

// registerDelta records a changed attribute. The principal attributes are
// stored as the principal itself, so they only flag it.
func (s *Session) registerDelta(name string, v *domain.AttributeValue) {
	if domain.IsPrincipalAttribute(name) {
		s.principalChanged = true
		return
	}
	s.delta[name] = v
}

func (s *Session) hasChanges() bool {
	return s.lastAccessedChanged || s.intervalChanged || len(s.delta) > 0 || s.principalChanged
}

// buildDelta collects the pending changes. Removals are nil entries.
func (s *Session) buildDelta() *domain.Delta {
	d := &domain.Delta{}
	if s.lastAccessedChanged {
		t := s.rec.LastAccessedTime
		d.LastAccessedTime = &t
	}
	if s.intervalChanged {
		interval := s.rec.MaxInactiveInterval
		d.MaxInactiveInterval = &interval
	}
	if len(s.delta) > 0 {
		d.Attributes = make(map[string][]byte, len(s.delta))
		for name, v := range s.delta {
			if v == nil {
				d.Attributes[name] = nil
				continue
			}
			d.Attributes[name] = v.Raw()
		}
	}
	if s.principalChanged {
		d.PrincipalChanged = true
		d.PrincipalName = s.rec.PrincipalName()
	}
	return d
}

func (s *Session) clearChangeFlags() {
	s.isNew = false
	s.idChanged = false
	s.lastAccessedChanged = false
	s.intervalChanged = false
	s.principalChanged = false
	s.originalID = s.rec.ID
	clear(s.delta)
}

func (s *Session) flushImmediateIfNecessary() error {
	if s.repo.flushMode != domain.FlushImmediate {
		return nil
	}
	return s.repo.Save(s.ctx, s)
}

// reader gives index resolvers access to decoded attributes without
// registering them as read.
type reader struct {
	s *Session
}

func (r reader) Attribute(name string) (any, error) {
	v := r.s.rec.Attribute(name)
	if v == nil {
		return nil, nil
	}
	return v.Object(r.s.repo.codec)
}

// Snapshot is a read-only view of a session for display.
type Snapshot struct {
	ID                  string         `json:"id" yaml:"id"`
	CreationTime        time.Time      `json:"creation_time" yaml:"creation_time"`
	LastAccessedTime    time.Time      `json:"last_accessed_time" yaml:"last_accessed_time"`
	MaxInactiveInterval string         `json:"max_inactive_interval" yaml:"max_inactive_interval"`
	ExpiresAt           *time.Time     `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	PrincipalName       string         `json:"principal_name,omitempty" yaml:"principal_name,omitempty"`
	Attributes          map[string]any `json:"attributes" yaml:"attributes"`
}

// Snapshot decodes every attribute. It does not register reads.
func (s *Session) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{
		ID:                  s.rec.ID,
		CreationTime:        s.rec.CreationTime,
		LastAccessedTime:    s.rec.LastAccessedTime,
		MaxInactiveInterval: s.rec.MaxInactiveInterval.String(),
		PrincipalName:       s.rec.PrincipalName(),
		Attributes:          make(map[string]any),
	}
	if s.rec.MaxInactiveInterval < 0 {
		snap.MaxInactiveInterval = "never"
	}
	if at, ok := s.rec.ExpiresAt(); ok {
		snap.ExpiresAt = &at
	}
	r := reader{s}
	for _, name := range s.rec.AttributeNames() {
		obj, err := r.Attribute(name)
		if err != nil {
			return nil, fmt.Errorf("failed to decode attribute %s: %w", name, err)
		}
		snap.Attributes[name] = obj
	}
	return snap, nil
}
