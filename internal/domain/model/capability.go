package model

// Capability is a plugin's startup declaration: the scopes it grants, the
// operations it can perform with their categories, and which credential kinds
// it understands. Declarations are registered once during single-threaded
// bootstrap and treated as immutable for the process lifetime.
type Capability struct {
	Service    string
	Scopes     []string
	Operations map[string]OperationCategory
	Kinds      []CredentialKind
}

// DeclaresKind reports whether the capability accepts the given credential kind.
func (c Capability) DeclaresKind(kind CredentialKind) bool {
	for _, k := range c.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
