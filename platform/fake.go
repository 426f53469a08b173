package platform

import (
	"context"
	"fmt"
	"sync"
)

// Call records one adapter invocation on a Fake
type Call struct {
	Op       string
	RemoteID string
	Listing  NormalizedListing
}

// Fake is an in-memory marketplace. Tests and the demo mode use it: it
// honors the Adapter idempotency contract and can be scripted to fail.
type Fake struct {
	name string

	mu       sync.Mutex
	seq      int
	listings map[string]*RemoteListing
	nextErrs map[string][]error
	calls    []Call
}

// NewFake creates a fake marketplace with the given platform name
func NewFake(name string) *Fake {
	return &Fake{
		name:     name,
		listings: make(map[string]*RemoteListing),
		nextErrs: make(map[string][]error),
	}
}

// FailNext queues an error to be returned by the next call of the given
// operation ("publish", "update", "delist", "fetch"). Multiple queued errors
// fail successive calls in order.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextErrs[op] = append(f.nextErrs[op], err)
}

// Calls returns every invocation made against the fake, in order
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Listing returns the fake's stored remote listing, or nil
func (f *Fake) Listing(remoteID string) *RemoteListing {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[remoteID]
	if !ok {
		return nil
	}
	cp := *l
	return &cp
}

// SetListing seeds or mutates remote state directly, for drift scenarios
func (f *Fake) SetListing(l RemoteListing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := l
	f.listings[l.RemoteID] = &cp
}

func (f *Fake) takeErr(op string) error {
	errs := f.nextErrs[op]
	if len(errs) == 0 {
		return nil
	}
	err := errs[0]
	f.nextErrs[op] = errs[1:]
	return err
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) Publish(ctx context.Context, listing NormalizedListing) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: "publish", Listing: listing})
	if err := f.takeErr("publish"); err != nil {
		return "", err
	}

	f.seq++
	remoteID := fmt.Sprintf("%s-%d", f.name, f.seq)
	f.listings[remoteID] = &RemoteListing{
		RemoteID:   remoteID,
		Status:     RemoteLive,
		Title:      listing.Title,
		PriceCents: listing.PriceCents,
	}
	return remoteID, nil
}

func (f *Fake) Update(ctx context.Context, remoteID string, listing NormalizedListing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: "update", RemoteID: remoteID, Listing: listing})
	if err := f.takeErr("update"); err != nil {
		return err
	}

	l, ok := f.listings[remoteID]
	if !ok || l.Status != RemoteLive {
		return NewPermanentError(f.name, "not_found", "no live listing "+remoteID)
	}
	l.Title = listing.Title
	l.PriceCents = listing.PriceCents
	return nil
}

func (f *Fake) Delist(ctx context.Context, remoteID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: "delist", RemoteID: remoteID})
	if err := f.takeErr("delist"); err != nil {
		return err
	}

	// Delisting something already gone succeeds
	if l, ok := f.listings[remoteID]; ok {
		l.Status = RemoteRemoved
	}
	return nil
}

func (f *Fake) Fetch(ctx context.Context, remoteID string) (*RemoteListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: "fetch", RemoteID: remoteID})
	if err := f.takeErr("fetch"); err != nil {
		return nil, err
	}

	l, ok := f.listings[remoteID]
	if !ok {
		return &RemoteListing{RemoteID: remoteID, Status: RemoteRemoved}, nil
	}
	cp := *l
	return &cp, nil
}
