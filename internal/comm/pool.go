// Package comm defines the communicator interface to the central
// dispatch service and a fixed-size pool that leases clients to stages.
// The wire protocol itself is an external collaborator: this package
// only fixes the RPC verbs stages call and the pool's leasing contract.
package comm

import (
	"context"
	"errors"
	"fmt"

	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

// ErrTransient marks a transient remote failure: the affected cycle is
// abandoned and the next cycle retries.
var ErrTransient = errors.New("comm: transient remote error")

// TransientRemoteError wraps a transport-level failure observed while
// calling the dispatcher.
type TransientRemoteError struct {
	Op  string
	Err error
}

func (e *TransientRemoteError) Error() string {
	return fmt.Sprintf("transient remote error during %s: %v", e.Op, e.Err)
}

func (e *TransientRemoteError) Unwrap() error { return e.Err }

func (e *TransientRemoteError) Is(target error) bool { return target == ErrTransient }

// Command is an operator command addressed to this agent.
type Command struct {
	ID   string
	Verb string
	Args map[string]string
}

// Event is a granular event record for event-service workloads.
type Event struct {
	PandaID      string
	EventRangeID string
	Status       string
}

// Communicator is the set of RPC verbs stages invoke against the
// central dispatch service. Implementations are interchangeable and
// must be stateless across calls so the pool can reuse them freely;
// Reset is called on every Release so leaked per-call state doesn't
// leak between leases.
type Communicator interface {
	FetchJobs(ctx context.Context, queueName string, n int) ([]model.JobSpec, error)
	ReportStatus(ctx context.Context, job model.JobSpec) error
	FetchCommands(ctx context.Context) ([]Command, error)
	AckCommand(ctx context.Context, id string) error
	FetchCache(ctx context.Context, name string) ([]byte, error)
	PushEvents(ctx context.Context, workerID int64, events []Event) error
	Reset()
}

// Pool is a fixed-size collection of Communicator clients, leased one
// at a time per RPC call. A stage blocks on Lease until a client is
// free or its context is done.
type Pool struct {
	sem chan Communicator
}

// NewPool builds a pool from a fixed set of clients. The pool's size is
// exactly len(clients); reconnection on transport failure is the
// client's own responsibility (it returns a TransientRemoteError and
// remains usable for the next call).
func NewPool(clients []Communicator) *Pool {
	sem := make(chan Communicator, len(clients))
	for _, c := range clients {
		sem <- c
	}
	return &Pool{sem: sem}
}

// Lease waits for a free client.
func (p *Pool) Lease(ctx context.Context) (Communicator, error) {
	select {
	case c := <-p.sem:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a client to the pool after resetting its per-call
// state.
func (p *Pool) Release(c Communicator) {
	c.Reset()
	p.sem <- c
}

// Size returns the pool's fixed capacity.
func (p *Pool) Size() int {
	return cap(p.sem)
}
