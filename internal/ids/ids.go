// Package ids issues the identifiers for invitations, audit entries
// and directory subjects.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID. Time-ordered, so invitation and ledger rows sort
// by creation without a separate sequence; entropy comes from
// crypto/rand because the ids end up in audit records.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
