package domain

import (
	"sort"
	"time"
)

// Record is a session as kept in the store.
// Timestamps are kept at millisecond precision, the resolution the stores persist.
type Record struct {
	ID                  string
	CreationTime        time.Time
	LastAccessedTime    time.Time
	MaxInactiveInterval time.Duration

	principal string
	attrs     map[string]*AttributeValue
}

// Now returns the current time at the precision records are stored with.
func Now() time.Time {
	return Truncate(time.Now())
}

// Truncate drops sub-millisecond precision and the monotonic clock reading.
func Truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}

// NewRecord creates a record created and last accessed at now.
func NewRecord(id string, now time.Time) *Record {
	now = Truncate(now)
	return &Record{
		ID:                  id,
		CreationTime:        now,
		LastAccessedTime:    now,
		MaxInactiveInterval: DefaultMaxInactiveInterval,
		attrs:               make(map[string]*AttributeValue),
	}
}

// IsExpired reports whether the record has been inactive for at least its interval.
// A negative interval never expires.
func (r *Record) IsExpired(now time.Time) bool {
	if r.MaxInactiveInterval < 0 {
		return false
	}
	return !now.Add(-r.MaxInactiveInterval).Before(r.LastAccessedTime)
}

// ExpiresAt returns the instant the record expires, or false if it never does.
func (r *Record) ExpiresAt() (time.Time, bool) {
	if r.MaxInactiveInterval < 0 {
		return time.Time{}, false
	}
	return r.LastAccessedTime.Add(r.MaxInactiveInterval), true
}

// PrincipalName returns the indexed principal, or "" when the session is anonymous.
func (r *Record) PrincipalName() string {
	return r.principal
}

// SetPrincipalName sets the principal and mirrors it into the principal attributes.
// An empty name removes them.
func (r *Record) SetPrincipalName(name string) {
	r.ensureAttrs()
	r.principal = name
	if name == "" {
		delete(r.attrs, PrincipalNameAttribute)
		delete(r.attrs, PrincipalNameIndexName)
		return
	}
	r.attrs[PrincipalNameAttribute] = StringValue(name)
	r.attrs[PrincipalNameIndexName] = StringValue(name)
}

// Attribute returns the named attribute or nil.
func (r *Record) Attribute(name string) *AttributeValue {
	if IsPrincipalAttribute(name) {
		if r.principal == "" {
			return nil
		}
		return StringValue(r.principal)
	}
	return r.attrs[name]
}

// AttributeNames returns the attribute names in lexical order.
func (r *Record) AttributeNames() []string {
	names := make([]string, 0, len(r.attrs))
	for name := range r.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetAttribute stores v under name. A nil v removes the attribute.
// Principal attributes set the principal and require a cached string value.
func (r *Record) SetAttribute(name string, v *AttributeValue) error {
	if v == nil {
		r.RemoveAttribute(name)
		return nil
	}
	if IsPrincipalAttribute(name) {
		obj, _ := v.Cached()
		principal, ok := obj.(string)
		if !ok {
			return ErrInvalidPrincipal
		}
		r.SetPrincipalName(principal)
		return nil
	}
	r.ensureAttrs()
	r.attrs[name] = v
	return nil
}

// RestoreAttribute stores raw bytes read from a store without principal handling.
func (r *Record) RestoreAttribute(name string, raw []byte) {
	if IsPrincipalAttribute(name) {
		return
	}
	r.ensureAttrs()
	r.attrs[name] = NewAttributeValue(raw)
}

// RemoveAttribute deletes the named attribute. Removing a principal attribute clears the principal.
func (r *Record) RemoveAttribute(name string) {
	if IsPrincipalAttribute(name) {
		r.SetPrincipalName("")
		return
	}
	delete(r.attrs, name)
}

// Clone returns a copy that shares no mutable state with r.
// Attribute values are copied shallowly: their bytes are never mutated in place.
func (r *Record) Clone() *Record {
	c := *r
	c.attrs = make(map[string]*AttributeValue, len(r.attrs))
	for name, v := range r.attrs {
		cp := *v
		c.attrs[name] = &cp
	}
	return &c
}

func (r *Record) ensureAttrs() {
	if r.attrs == nil {
		r.attrs = make(map[string]*AttributeValue)
	}
}
