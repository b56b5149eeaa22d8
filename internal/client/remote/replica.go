// Package remote is the client side of the remote authority: the Replica
// contract used by the reconciler, a gRPC implementation and an in-process
// implementation for tests and offline demos.
package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/ledgersync/internal/models"
)

var (
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrUnavailable  = errors.New("remote: unavailable")
	ErrRejected     = errors.New("remote: request rejected")
)

// PushResult reports whether the remote changed its state. Applied is false
// when it already held an equal or newer version; that is still a success.
type PushResult struct {
	Applied bool
}

// Replica is the remote copy of the data. Every error returned by an
// implementation matches common.ErrTransportFailure.
type Replica interface {
	// Push applies m idempotently under last-write-wins.
	Push(ctx context.Context, collection string, m models.Mutation) (PushResult, error)
	// PullAll returns every live record of collection.
	PullAll(ctx context.Context, collection string) ([]*models.Record, error)
	// Subscribe delivers remote changes of collection to onChange until the
	// subscription is closed or fails.
	Subscribe(ctx context.Context, collection string, onChange func(models.Change)) (Subscription, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// Subscription is a live change feed.
type Subscription interface {
	// Done is closed when the feed stops.
	Done() <-chan struct{}
	// Err returns the reason the feed stopped, nil after Close.
	Err() error
	Close() error
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newSubscription(cancel context.CancelFunc) *subscription {
	return &subscription{cancel: cancel, done: make(chan struct{})}
}

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}
