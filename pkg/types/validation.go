package types

// IsValidIdentity reports whether id can key the registry and name a
// delivery channel. Identities are client-chosen and trusted; only shape is
// checked so an arbitrary blob cannot become a map key or channel name.
func IsValidIdentity(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
