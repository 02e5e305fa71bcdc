package authz

import "fmt"

// ServerResolver maps a capability key to its owning server.
type ServerResolver func(key string) (server string, ok bool)

// Warning explains why a requested capability was dropped from a turn.
type Warning struct {
	Capability string `json:"capability"`
	Reason     string `json:"reason"`
}

// ValidateAccess filters the requested capability keys down to those the
// caller may use. The result is always a subset of the request in request
// order; every rejected key yields exactly one warning, and validation never
// fails outright. Duplicate keys collapse to their first occurrence.
func ValidateAccess(requested []string, authorizedServers []string, serverOf ServerResolver) (allowed []string, warnings []Warning) {
	authorized := make(map[string]bool, len(authorizedServers))
	for _, server := range authorizedServers {
		authorized[server] = true
	}

	seen := make(map[string]bool, len(requested))
	for _, key := range requested {
		if seen[key] {
			continue
		}
		seen[key] = true

		server, ok := serverOf(key)
		if !ok {
			warnings = append(warnings, Warning{
				Capability: key,
				Reason:     "no capability server provides this tool",
			})
			continue
		}
		if !authorized[server] {
			warnings = append(warnings, Warning{
				Capability: key,
				Reason:     fmt.Sprintf("access to server %q is not authorized", server),
			})
			continue
		}
		allowed = append(allowed, key)
	}
	return allowed, warnings
}

// ApplyExclusivity enforces single-exclusive-server turns. The first key in
// caller order owned by an exclusive server pins that server for the turn;
// keys owned by any other server drop with one warning each. Without an
// exclusive server the set passes through unchanged.
func ApplyExclusivity(allowed []string, serverOf ServerResolver, isExclusive func(server string) bool) (final []string, warnings []Warning) {
	winner := ""
	for _, key := range allowed {
		server, ok := serverOf(key)
		if !ok {
			continue
		}
		if isExclusive(server) {
			winner = server
			break
		}
	}
	if winner == "" {
		return allowed, nil
	}

	for _, key := range allowed {
		server, _ := serverOf(key)
		if server == winner {
			final = append(final, key)
			continue
		}
		warnings = append(warnings, Warning{
			Capability: key,
			Reason:     fmt.Sprintf("dropped: server %q is exclusive for this session", winner),
		})
	}
	return final, warnings
}
