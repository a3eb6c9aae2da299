package redis

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/gridsession/pkg/domain"
)

// Hash fields of a stored session.
const (
	fieldID                  = "id"
	fieldCreationTime        = "creationTime"
	fieldLastAccessedTime    = "lastAccessedTime"
	fieldMaxInactiveInterval = "maxInactiveInterval"
	fieldPrincipalName       = "principalName"
	attrFieldPrefix          = "attr:"
)

// encodeRecord flattens rec into hash fields.
// Principal attributes are not written: they are rebuilt from principalName.
func encodeRecord(rec *domain.Record) map[string]any {
	fields := map[string]any{
		fieldID:                  rec.ID,
		fieldCreationTime:        formatMillis(rec.CreationTime),
		fieldLastAccessedTime:    formatMillis(rec.LastAccessedTime),
		fieldMaxInactiveInterval: formatInterval(rec.MaxInactiveInterval),
	}
	if p := rec.PrincipalName(); p != "" {
		fields[fieldPrincipalName] = p
	}
	for _, name := range rec.AttributeNames() {
		if domain.IsPrincipalAttribute(name) {
			continue
		}
		fields[attrFieldPrefix+name] = rec.Attribute(name).Raw()
	}
	return fields
}

// decodeRecord rebuilds a record from HGETALL output.
func decodeRecord(fields map[string]string) (*domain.Record, error) {
	id, ok := fields[fieldID]
	if !ok {
		return nil, fmt.Errorf("stored session is missing field %q", fieldID)
	}
	created, err := parseMillis(fields[fieldCreationTime])
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", fieldCreationTime, err)
	}
	accessed, err := parseMillis(fields[fieldLastAccessedTime])
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", fieldLastAccessedTime, err)
	}
	interval, err := strconv.ParseInt(fields[fieldMaxInactiveInterval], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", fieldMaxInactiveInterval, err)
	}

	rec := domain.NewRecord(id, created)
	rec.LastAccessedTime = accessed
	rec.MaxInactiveInterval = time.Duration(interval) * time.Millisecond
	rec.SetPrincipalName(fields[fieldPrincipalName])
	for field, value := range fields {
		if name, ok := strings.CutPrefix(field, attrFieldPrefix); ok {
			rec.RestoreAttribute(name, []byte(value))
		}
	}
	return rec, nil
}

// decodeRecordBytes is decodeRecord for fields carried in event messages.
func decodeRecordBytes(fields map[string][]byte) (*domain.Record, error) {
	m := make(map[string]string, len(fields))
	for k, v := range fields {
		m[k] = string(v)
	}
	return decodeRecord(m)
}

func encodeRecordBytes(rec *domain.Record) map[string][]byte {
	fields := encodeRecord(rec)
	out := make(map[string][]byte, len(fields))
	for k, v := range fields {
		switch v := v.(type) {
		case string:
			out[k] = []byte(v)
		case []byte:
			out[k] = v
		}
	}
	return out
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// formatInterval stores an interval in ms. Every negative interval is stored
// as -1, so sub-millisecond ones still mean "never expires".
func formatInterval(d time.Duration) string {
	if d < 0 {
		return "-1"
	}
	return strconv.FormatInt(d.Milliseconds(), 10)
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
