package pending

import (
	"context"
	"errors"

	"adgate/internal/models"
)

// ErrNoPending is returned when the slot for a session is empty.
var ErrNoPending = errors.New("no pending download for session")

// Store holds at most one PendingDownload per gate session. Peek is used
// while the gate is showing the ad, so a page reload mid-ad can retry; Take
// is the atomic read+delete used exactly once, at release time.
type Store interface {
	Put(ctx context.Context, session string, rec models.PendingDownload) error
	Peek(ctx context.Context, session string) (models.PendingDownload, error)
	Take(ctx context.Context, session string) (models.PendingDownload, error)
	Clear(ctx context.Context, session string) error
}
