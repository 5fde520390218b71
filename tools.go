//go:build tools

// Package roomchat declares tool dependencies for this module so that
// `go generate` (mockgen) resolves against the versions pinned in go.mod.
package roomchat

import (
	_ "go.uber.org/mock/mockgen"
)
