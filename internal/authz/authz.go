// Package authz resolves caller identities and filters capability access.
// Identities arrive as proxy-injected credentials on the WebSocket handshake;
// group membership gates which capability servers a session may use.
package authz

// AnonymousUser is the identity name for unverifiable or absent credentials.
const AnonymousUser = "anonymous"

// Identity is the authenticated caller of a connection.
type Identity struct {
	User   string
	Groups []string
}

// Anonymous returns the identity used when no credential verifies.
func Anonymous() Identity {
	return Identity{User: AnonymousUser}
}

// IdentitySource resolves a connection credential into an identity. A
// credential that cannot be verified resolves to the anonymous identity;
// identification never fails a connection.
type IdentitySource interface {
	Identify(credential string) Identity
}

// GroupSource resolves group membership for a user credential.
type GroupSource interface {
	Groups(user string) []string
	IsUserInGroup(user, group string) bool
}

// StaticGroups maps user names to fixed group lists. The credential is taken
// as the user name directly; used for development and tests.
type StaticGroups map[string][]string

// Groups returns the configured groups for the user.
func (s StaticGroups) Groups(user string) []string {
	return append([]string(nil), s[user]...)
}

// IsUserInGroup reports whether the user holds the group.
func (s StaticGroups) IsUserInGroup(user, group string) bool {
	for _, held := range s[user] {
		if held == group {
			return true
		}
	}
	return false
}

// Identify treats the credential as a literal user name.
func (s StaticGroups) Identify(credential string) Identity {
	if credential == "" {
		return Anonymous()
	}
	return Identity{User: credential, Groups: s.Groups(credential)}
}
