package out

import (
	"context"

	"pocus/internal/modules/workspace/domain"
)

// PreferenceStore keeps small string values across launches.
type PreferenceStore interface {
	// Get reports false when the key was never set.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type ActivityPublisher interface {
	Publish(ctx context.Context, activity domain.Activity) error
	Close() error
}
