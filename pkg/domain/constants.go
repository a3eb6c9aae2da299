package domain

import "time"

const (
	// DefaultMaxInactiveInterval is the inactivity timeout of new sessions.
	DefaultMaxInactiveInterval = 30 * time.Minute

	// DefaultMapName names the keyspace sessions are stored under.
	DefaultMapName = "gridsession:sessions"

	// PrincipalNameAttribute is the attribute mirroring the session principal.
	PrincipalNameAttribute = "principalName"

	// PrincipalNameIndexName is the only index supported by FindByIndexNameAndIndexValue.
	// It is also kept as an attribute mirroring the principal.
	PrincipalNameIndexName = "gridsession.PRINCIPAL_NAME_INDEX_NAME"

	// SecurityContextAttribute holds the authentication state written by login flows.
	// Setting it re-resolves the session principal.
	SecurityContextAttribute = "SECURITY_CONTEXT"
)

// IsPrincipalAttribute reports whether name is one of the attributes mirroring the principal.
func IsPrincipalAttribute(name string) bool {
	return name == PrincipalNameAttribute || name == PrincipalNameIndexName
}
