package dispatch

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// NewPlayerID derives a fresh anonymous player identifier. Identities are
// never persisted; a reconnecting session proves continuity with the same id,
// a new session simply mints another.
func NewPlayerID() string {
	return fmt.Sprintf("p-%016x", xxhash.Sum64String(uuid.NewString()))
}
