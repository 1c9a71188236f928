package auth

import "errors"

var ErrElevationRequired = errors.New("operation requires an elevated execution scope")

// Scope is the capability under which a component performs catalog reads that
// bypass tenant permission filtering. Workers and webhook routers run with an
// elevated scope; request-driven code paths do not. Passing the scope
// explicitly replaces any ambient permission bypass.
type Scope struct {
	elevated bool
}

// SystemScope returns the elevated scope handed to trusted background
// components at construction time.
func SystemScope() Scope {
	return Scope{elevated: true}
}

func (s Scope) Elevated() bool {
	return s.elevated
}

// Require returns ErrElevationRequired unless the scope is elevated. Catalog
// helpers that read across tenant boundaries call this before querying.
func (s Scope) Require() error {
	if !s.elevated {
		return ErrElevationRequired
	}
	return nil
}
