// Package supervisor implements the agent's process-lifecycle manager:
// it wires the shared pools and the queue-config mapper, spawns the
// eleven stage pools with per-stage parallelism from config, and
// propagates shutdown.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pkbatx/edge-dispatch-agent/internal/comm"
	"github.com/pkbatx/edge-dispatch-agent/internal/config"
	"github.com/pkbatx/edge-dispatch-agent/internal/dbproxy"
	"github.com/pkbatx/edge-dispatch-agent/internal/stage"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

// pollInterval is how often the supervisor checks the stop signal
// while blocked in Start. Polling at 1s keeps signal delivery from
// being masked by a long uninterruptible wait.
const pollInterval = time.Second

// Supervisor owns the pools, mapper, stop signal, and the set of stage
// agents for the process lifetime. Stage agents hold only shared,
// non-owning references to these.
type Supervisor struct {
	Registry *config.Registry
	Mapper   *config.QueueConfigMapper
	Comm     *comm.Pool
	DB       *dbproxy.Pool
	Stop     *stopsignal.Signal
	Stages   stage.Registry
	Plugins  *stage.PluginRegistry
	Drift    *config.DriftWatcher

	logger *log.Logger
	wg     sync.WaitGroup
}

// New constructs a Supervisor with explicit dependencies. Pools and
// mapper are passed to every stage constructor, never fetched from a
// package-level global, so single-shot testing can construct an
// isolated instance per test.
func New(reg *config.Registry, mapper *config.QueueConfigMapper, commPool *comm.Pool, dbPool *dbproxy.Pool) *Supervisor {
	logger := log.New(os.Stdout, "[supervisor] ", log.LstdFlags)
	s := &Supervisor{
		Registry: reg,
		Mapper:   mapper,
		Comm:     commPool,
		DB:       dbPool,
		Stop:     stopsignal.New(),
		Stages:   DefaultStageRegistry(),
		Plugins:  stage.NewPluginRegistry(),
		logger:   logger,
	}
	if mapper.Path() != "" {
		if dw, err := config.WatchForDrift(mapper.Path(), logger); err != nil {
			logger.Printf("config drift watcher unavailable: %v", err)
		} else {
			s.Drift = dw
		}
	}
	return s
}

// Bootstrap runs the supervisor's startup sequence: it builds the
// communicator pool from clients, loads and freezes the queue-config
// mapper, opens the DB proxy pool, and ensures the schema exists.
// Callers typically call this once at process start and pass the
// result to New.
func Bootstrap(ctx context.Context, reg *config.Registry, clients []comm.Communicator) (*config.QueueConfigMapper, *comm.Pool, *dbproxy.Pool, error) {
	if len(clients) == 0 {
		// No dispatcher client wired in: fill the pool to its configured
		// size with stubs so lease contention behaves the same as a real
		// deployment's.
		n := reg.CommPoolSize
		if n <= 0 {
			n = 1
		}
		shared := comm.NewStubCommunicator()
		for i := 0; i < n; i++ {
			clients = append(clients, shared)
		}
	}
	commPool := comm.NewPool(clients)

	mapper, err := config.LoadQueueMapper(reg.QConf)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("supervisor: load queue mapper: %w", err)
	}

	dbPool, err := dbproxy.Open(reg.DBPath, reg.DBPoolSize)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("supervisor: open db pool: %w", err)
	}
	if err := dbPool.EnsureSchema(ctx, mapper); err != nil {
		_ = dbPool.Close()
		return nil, nil, nil, fmt.Errorf("supervisor: ensure schema: %w", err)
	}
	return mapper, commPool, dbPool, nil
}

// Start launches the stage pools and blocks until shutdown. In
// single-shot mode, every stage
// worker runs Execute exactly once and Start returns once all of them
// have; Start does not block on the stop signal and does not poll it.
// Otherwise Start blocks until Stop is set, then waits for every stage
// worker to return from its current cycle before returning itself.
func (s *Supervisor) Start(ctx context.Context, singleShot bool) {
	s.runExecuteFirst(ctx, singleShot)
	s.launchAll(ctx, singleShot)

	if singleShot {
		s.wg.Wait()
		return
	}
	for !s.Stop.IsSet() {
		s.Stop.Wait(pollInterval)
	}
	s.wg.Wait()
}

// runExecuteFirst calls Execute synchronously, once per configured
// worker, for every stage in config.ExecuteFirstStages, in
// FixedStageList order, before any stage's periodic loop starts, so
// dependent stages find usable state (fresh credentials, a warm
// cache). It does not launch the subsequent
// periodic loop itself; launchAll does that for every stage except, in
// single-shot mode, the ones already driven to completion here.
func (s *Supervisor) runExecuteFirst(ctx context.Context, singleShot bool) {
	for _, name := range config.FixedStageList {
		if !config.ExecuteFirstStages[name] {
			continue
		}
		ctor, ok := s.Stages[name]
		if !ok {
			continue
		}
		sec := s.Registry.StageConfig(name)
		n := sec.NThreads
		for i := 0; i < n; i++ {
			deps := s.deps(name, sec)
			agent := ctor(deps, i, singleShot, s.Stop)
			if err := agent.Execute(ctx); err != nil {
				s.logger.Printf("execute-first stage %s/%d failed: %v", name, i, err)
			}
		}
	}
}

// launchAll spawns N worker goroutines per stage in the fixed stage
// list, each running Run to completion. In single-shot mode, stages
// already driven once by runExecuteFirst are skipped here entirely:
// single-shot means exactly one Execute per worker, and Run would
// otherwise call Execute a second time for the pre-execute set.
func (s *Supervisor) launchAll(ctx context.Context, singleShot bool) {
	for _, name := range config.FixedStageList {
		if singleShot && config.ExecuteFirstStages[name] {
			continue
		}
		ctor, ok := s.Stages[name]
		if !ok {
			s.logger.Printf("no constructor registered for stage %s, skipping", name)
			continue
		}
		sec := s.Registry.StageConfig(name)
		n := sec.NThreads
		for i := 0; i < n; i++ {
			deps := s.deps(name, sec)
			agent := ctor(deps, i, singleShot, s.Stop)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				agent.Run(ctx)
			}()
		}
	}
}

func (s *Supervisor) deps(stageName string, sec config.StageSection) stage.Deps {
	return stage.Deps{
		Comm:           s.Comm,
		DB:             s.DB,
		Mapper:         s.Mapper,
		Plugins:        s.Plugins,
		Stage:          sec,
		CredentialPath: s.Registry.CredentialPath,
	}
}

// Shutdown sets the stop signal and waits for every stage worker to
// return. It is idempotent: calling it more than once, or after Start
// has already observed stop, is safe.
func (s *Supervisor) Shutdown() {
	s.Stop.Set()
	s.wg.Wait()
}

// Close releases the pools and the drift watcher the supervisor owns.
// Call after Start returns.
func (s *Supervisor) Close() error {
	if s.Drift != nil {
		_ = s.Drift.Close()
	}
	return s.DB.Close()
}
