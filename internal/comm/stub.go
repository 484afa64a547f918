package comm

import (
	"context"
	"sync"

	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

// StubCommunicator is a no-op Communicator used for tests and for
// queues that don't configure a real dispatcher endpoint: it exercises
// the full call shape without a real back-end.
type StubCommunicator struct {
	mu       sync.Mutex
	Jobs     map[string][]model.JobSpec
	Reported []model.JobSpec
	Commands []Command
	Acked    []string
	Cache    map[string][]byte
	Pushed   []Event
}

// NewStubCommunicator builds a stub with empty queues.
func NewStubCommunicator() *StubCommunicator {
	return &StubCommunicator{
		Jobs:  make(map[string][]model.JobSpec),
		Cache: make(map[string][]byte),
	}
}

func (s *StubCommunicator) FetchJobs(ctx context.Context, queueName string, n int) ([]model.JobSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	avail := s.Jobs[queueName]
	if len(avail) > n {
		avail, s.Jobs[queueName] = avail[:n], avail[n:]
	} else {
		delete(s.Jobs, queueName)
	}
	out := make([]model.JobSpec, len(avail))
	copy(out, avail)
	return out, nil
}

func (s *StubCommunicator) ReportStatus(ctx context.Context, job model.JobSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reported = append(s.Reported, job)
	return nil
}

func (s *StubCommunicator) FetchCommands(ctx context.Context) ([]Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.Commands
	s.Commands = nil
	return out, nil
}

func (s *StubCommunicator) AckCommand(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Acked = append(s.Acked, id)
	return nil
}

func (s *StubCommunicator) FetchCache(ctx context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Cache[name], nil
}

func (s *StubCommunicator) PushEvents(ctx context.Context, workerID int64, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pushed = append(s.Pushed, events...)
	return nil
}

func (s *StubCommunicator) Reset() {}
