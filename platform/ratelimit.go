package platform

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/listkeeper/listkeeper/errors"
)

// rateLimited wraps an adapter with a token bucket so outbound API calls
// stay under the marketplace's published limit. Blocked calls wait for a
// token or for ctx cancellation, whichever comes first.
type rateLimited struct {
	inner   Adapter
	limiter *rate.Limiter
}

// WithRateLimit caps the adapter at maxCallsPerMinute across all operations.
// Zero or negative means unlimited and returns the adapter unchanged.
func WithRateLimit(a Adapter, maxCallsPerMinute int) Adapter {
	if maxCallsPerMinute <= 0 {
		return a
	}
	return &rateLimited{
		inner:   a,
		limiter: rate.NewLimiter(rate.Limit(float64(maxCallsPerMinute)/60.0), maxCallsPerMinute),
	}
}

func (r *rateLimited) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "rate limit wait aborted for %s", r.inner.Name())
	}
	return nil
}

func (r *rateLimited) Name() string { return r.inner.Name() }

func (r *rateLimited) Publish(ctx context.Context, listing NormalizedListing) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Publish(ctx, listing)
}

func (r *rateLimited) Update(ctx context.Context, remoteID string, listing NormalizedListing) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.Update(ctx, remoteID, listing)
}

func (r *rateLimited) Delist(ctx context.Context, remoteID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.Delist(ctx, remoteID)
}

func (r *rateLimited) Fetch(ctx context.Context, remoteID string) (*RemoteListing, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Fetch(ctx, remoteID)
}
