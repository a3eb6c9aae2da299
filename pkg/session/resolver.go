package session

import (
	"github.com/aretw0/gridsession/pkg/domain"
	"github.com/aretw0/gridsession/pkg/ports"
	"github.com/google/uuid"
)

// PrincipalNameIndexResolver derives the principal name index of a session.
//
// It reads the security context first. The context may be a
// domain.SecurityContext, a pointer to one, anything with a PrincipalName
// method, or the generic map a security context decodes to after a round trip
// through the store. Without a context it falls back to the index attribute.
type PrincipalNameIndexResolver struct{}

var _ ports.IndexResolver = PrincipalNameIndexResolver{}

// ResolveIndexes returns the principal name index, or an empty map.
func (PrincipalNameIndexResolver) ResolveIndexes(session ports.AttributeReader) map[string]string {
	indexes := make(map[string]string, 1)

	if v, err := session.Attribute(domain.SecurityContextAttribute); err == nil && v != nil {
		if name := principalOf(v); name != "" {
			indexes[domain.PrincipalNameIndexName] = name
			return indexes
		}
	}

	if v, err := session.Attribute(domain.PrincipalNameIndexName); err == nil {
		if name, ok := v.(string); ok && name != "" {
			indexes[domain.PrincipalNameIndexName] = name
		}
	}
	return indexes
}

func principalOf(v any) string {
	switch ctx := v.(type) {
	case domain.SecurityContext:
		return ctx.Principal
	case *domain.SecurityContext:
		if ctx == nil {
			return ""
		}
		return ctx.Principal
	case interface{ PrincipalName() string }:
		return ctx.PrincipalName()
	case map[string]any:
		name, _ := ctx["principal"].(string)
		return name
	}
	return ""
}

// UUIDGenerator generates random (version 4) UUIDs.
type UUIDGenerator struct{}

var _ ports.IDGenerator = UUIDGenerator{}

func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}
