// Package auth handles request authentication for the registry API: JWT
// bearer tokens, the request principal, and the HTTP middleware stack
// (request ids, rate limiting, CORS).
package auth

// Principal is the authenticated entity making a request.
type Principal interface {
	GetID() string
	GetGroups() []string
	GetRoles() []string
}

// BasePrincipal is the standard Principal implementation built from token
// claims.
type BasePrincipal struct {
	ID     string
	Groups []string
	Roles  []string
}

func (b *BasePrincipal) GetID() string       { return b.ID }
func (b *BasePrincipal) GetGroups() []string { return b.Groups }
func (b *BasePrincipal) GetRoles() []string  { return b.Roles }
