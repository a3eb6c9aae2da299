package domain

import (
	"fmt"
	"strings"
)

// FlushMode controls when session changes are written to the store.
type FlushMode int

const (
	// FlushOnSave writes changes only when the repository saves the session.
	FlushOnSave FlushMode = iota
	// FlushImmediate writes every change as soon as it is made.
	FlushImmediate
)

func (m FlushMode) String() string {
	switch m {
	case FlushOnSave:
		return "on_save"
	case FlushImmediate:
		return "immediate"
	default:
		return fmt.Sprintf("FlushMode(%d)", int(m))
	}
}

// ParseFlushMode accepts the names produced by String, case-insensitively.
func ParseFlushMode(s string) (FlushMode, error) {
	switch normalizeMode(s) {
	case "", "on_save":
		return FlushOnSave, nil
	case "immediate":
		return FlushImmediate, nil
	}
	return 0, fmt.Errorf("%w: flush mode %q", ErrInvalidMode, s)
}

// SaveMode controls which attributes are written back on save.
type SaveMode int

const (
	// SaveOnSetAttribute writes only attributes that were set or removed.
	SaveOnSetAttribute SaveMode = iota
	// SaveOnGetAttribute also writes attributes that were read, covering in-place mutation of read values.
	SaveOnGetAttribute
	// SaveAlways writes every attribute of the session.
	SaveAlways
)

func (m SaveMode) String() string {
	switch m {
	case SaveOnSetAttribute:
		return "on_set_attribute"
	case SaveOnGetAttribute:
		return "on_get_attribute"
	case SaveAlways:
		return "always"
	default:
		return fmt.Sprintf("SaveMode(%d)", int(m))
	}
}

// ParseSaveMode accepts the names produced by String, case-insensitively.
func ParseSaveMode(s string) (SaveMode, error) {
	switch normalizeMode(s) {
	case "", "on_set_attribute":
		return SaveOnSetAttribute, nil
	case "on_get_attribute":
		return SaveOnGetAttribute, nil
	case "always":
		return SaveAlways, nil
	}
	return 0, fmt.Errorf("%w: save mode %q", ErrInvalidMode, s)
}

func normalizeMode(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}

func (m FlushMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *FlushMode) UnmarshalText(b []byte) error {
	v, err := ParseFlushMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m SaveMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *SaveMode) UnmarshalText(b []byte) error {
	v, err := ParseSaveMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
