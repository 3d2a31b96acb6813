package gami

import (
	"strings"

	"github.com/google/uuid"
)

// tokenGenerator produces opaque ASCII correlation tokens, unique among
// currently pending actions. Each session owns its own generator (no
// process-wide counter — see DESIGN.md "global mutable signal table").
type tokenGenerator struct{}

func newTokenGenerator() *tokenGenerator { return &tokenGenerator{} }

// generate returns a short opaque token derived from a random UUID. The
// hyphens are stripped since AMI headers are conventionally hyphen-light;
// uniqueness comes from the UUID's randomness, not from a counter.
func (tokenGenerator) generate() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
