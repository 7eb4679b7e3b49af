package services

import (
	"context"

	"github.com/google/uuid"
)

// VersionCache is an optional read-through cache for session versions.
// GetVersion is the hottest endpoint during freshness polling, so deployments
// can back it with redis; a nil cache is always legal.
type VersionCache interface {
	Get(ctx context.Context, sessionID uuid.UUID) (int, bool)
	Set(ctx context.Context, sessionID uuid.UUID, version int)
	Invalidate(ctx context.Context, sessionID uuid.UUID)
}
