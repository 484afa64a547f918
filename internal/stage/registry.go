package stage

import (
	"fmt"
	"sync"

	"github.com/pkbatx/edge-dispatch-agent/internal/comm"
	"github.com/pkbatx/edge-dispatch-agent/internal/config"
	"github.com/pkbatx/edge-dispatch-agent/internal/dbproxy"
	"github.com/pkbatx/edge-dispatch-agent/internal/stopsignal"
)

// LockOwner builds the lock-owner string a stage worker stamps on
// claimed rows, stable across a worker's lifetime so a re-claim after
// a crash-restart is attributable to the same slot.
func LockOwner(stageName string, index int) string {
	return fmt.Sprintf("%s-%d", stageName, index)
}

// Deps bundles the shared resources a stage constructor needs. Every
// field is a shared, non-owning reference: the supervisor owns the
// pools, mapper, and stop signal, stages just hold them.
type Deps struct {
	Comm           *comm.Pool
	DB             *dbproxy.Pool
	Mapper         *config.QueueConfigMapper
	Plugins        *PluginRegistry
	Stage          config.StageSection
	CredentialPath string
}

// Constructor builds one stage worker instance. index is the worker's
// position within its stage's pool (0..N-1).
type Constructor func(deps Deps, index int, singleShot bool, stop *stopsignal.Signal) Agent

// Registry maps stage name to constructor. The supervisor looks up
// only the stages it actually launches, so constructing one stage
// never forces initialization of plug-ins the process doesn't use.
type Registry map[string]Constructor

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return make(Registry)
}

// Register adds a stage constructor under name.
func (r Registry) Register(name string, c Constructor) {
	r[name] = c
}

// PluginRegistry holds the concrete plug-in implementations each queue
// names in its QueueConfig, keyed by (kind, name). Per-stage packages
// provide typed lookup helpers over this generic store so the
// supervisor can wire arbitrary plug-ins without importing every
// back-end package.
type PluginRegistry struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewPluginRegistry returns an empty plug-in registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{entries: make(map[string]any)}
}

// Register adds a plug-in instance under (kind, name), e.g.
// ("submitter", "htcondor").
func (r *PluginRegistry) Register(kind, name string, plugin any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind+":"+name] = plugin
}

// Lookup returns the plug-in registered under (kind, name), if any.
func (r *PluginRegistry) Lookup(kind, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[kind+":"+name]
	return v, ok
}
