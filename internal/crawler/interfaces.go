package crawler

import (
	"context"
	"time"
)

// Fetcher performs one HTTP GET and returns the body plus metadata. When a
// response arrived with a non-2xx status it is returned along with the error.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Gateway is the cycle-scoped entry point for every outbound request.
type Gateway interface {
	// FetchJSON decodes the response body into dst. Any failure is logged by
	// the gateway and returned; callers treat it as "no data".
	FetchJSON(ctx context.Context, url string, dst any) error
	// Download saves the response body under dir, or the store root when dir is nil.
	Download(ctx context.Context, url string, dir *StoryDir) error
	// Fetches reports how many requests were attempted through this gateway.
	Fetches() int64
}

// GatewayFactory builds a fresh gateway for a cycle.
type GatewayFactory func() Gateway

// Store persists story directories and downloaded bodies.
type Store interface {
	// CreateStoryDir opens the directory for entry, creating it when missing.
	// created reports whether this call made it.
	CreateStoryDir(ctx context.Context, entry StoryEntry) (dir StoryDir, created bool, err error)
	// SaveBinary writes body under dir and returns the resulting location.
	SaveBinary(ctx context.Context, dir *StoryDir, url string, body []byte) (string, error)
}

// Ledger remembers which stories have already been captured.
type Ledger interface {
	Has(id int64) bool
	Record(ctx context.Context, entry StoryEntry) error
}

// Publisher pushes per-story reports to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
