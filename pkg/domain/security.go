package domain

// SecurityContext is the authentication state stored under SecurityContextAttribute.
type SecurityContext struct {
	Principal   string   `json:"principal"`
	Authorities []string `json:"authorities,omitempty"`
}

// PrincipalName returns the authenticated principal.
func (c SecurityContext) PrincipalName() string {
	return c.Principal
}
