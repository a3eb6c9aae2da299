package domain

import "time"

// Delta carries the changes of a session since it was loaded.
// Stores apply it atomically where they can; otherwise the repository applies
// it to a locked copy of the record.
type Delta struct {
	LastAccessedTime    *time.Time
	MaxInactiveInterval *time.Duration

	// Attributes maps names to serialized values. A nil value removes the attribute.
	Attributes map[string][]byte

	PrincipalChanged bool
	PrincipalName    string
}

// IsEmpty reports whether applying d would change nothing.
func (d *Delta) IsEmpty() bool {
	return d.LastAccessedTime == nil &&
		d.MaxInactiveInterval == nil &&
		len(d.Attributes) == 0 &&
		!d.PrincipalChanged
}

// Apply mutates rec.
func (d *Delta) Apply(rec *Record) {
	if d.LastAccessedTime != nil {
		rec.LastAccessedTime = Truncate(*d.LastAccessedTime)
	}
	if d.MaxInactiveInterval != nil {
		rec.MaxInactiveInterval = *d.MaxInactiveInterval
	}
	for name, raw := range d.Attributes {
		if raw == nil {
			rec.RemoveAttribute(name)
			continue
		}
		rec.RestoreAttribute(name, raw)
	}
	if d.PrincipalChanged {
		rec.SetPrincipalName(d.PrincipalName)
	}
}
