package persist

import (
	"context"
	"time"

	"github.com/voket/relay/budget"
	"github.com/voket/relay/cooldown"
	"github.com/voket/relay/pattern"
)

// SnapshotVersion is bumped whenever the snapshot schema changes shape. A
// mismatched or unreadable snapshot falls back to defaults instead of
// failing startup.
const SnapshotVersion = 1

// Snapshot is the single versioned blob holding all mutable state: budget
// counters and period anchors, cooldown states, and pattern store contents.
type Snapshot struct {
	Version  int                               `json:"version"`
	SavedAt  time.Time                         `json:"saved_at"`
	Budget   map[string][]budget.WindowState   `json:"budget"`
	Cooldown map[string]cooldown.ProviderState `json:"cooldown"`
	Patterns map[string][]pattern.Entry        `json:"patterns"`
}

// Store persists the snapshot blob. Implementations must be safe for a
// single writer; no other process may write the same state concurrently.
type Store interface {
	// Save durably writes the blob. A crash mid-write must never leave a
	// half-written, unreadable state behind.
	Save(ctx context.Context, data []byte) error

	// Load reads the blob. A missing snapshot returns (nil, nil).
	Load(ctx context.Context) ([]byte, error)
}
