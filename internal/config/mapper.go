package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

// ErrConfigNotFound is returned when no candidate queue-config path
// exists.
var ErrConfigNotFound = errors.New("qconf: no candidate queue config path exists")

// ErrConfigMalformed is returned when the queue-config document fails
// to parse as JSON.
var ErrConfigMalformed = errors.New("qconf: queue config document is malformed")

// QueueConfigMapper is an immutable mapping from queue name to
// QueueConfig, built once by LoadQueueMapper. Readers need no
// synchronization.
type QueueConfigMapper struct {
	queues map[string]model.QueueConfig
	path   string
}

// LoadQueueMapper resolves the queue-config document and parses it into
// a frozen QueueConfigMapper.
func LoadQueueMapper(qconf QConfSection) (*QueueConfigMapper, error) {
	path, err := resolveQueueConfigPath(qconf.ConfigFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}
	queues := make(map[string]model.QueueConfig, len(raw))
	for name, bag := range raw {
		qc := model.QueueConfig{
			QueueName:   name,
			MappingType: model.MappingOneToOne,
			LateBinding: false,
			Fields:      make(map[string]json.RawMessage, len(bag)),
		}
		for key, val := range bag {
			switch key {
			case "mapType":
				var s string
				if json.Unmarshal(val, &s) == nil {
					qc.MappingType = model.MappingType(s)
				}
			case "useJobLateBinding":
				var b bool
				if json.Unmarshal(val, &b) == nil {
					qc.LateBinding = b
				}
			}
			qc.Fields[key] = val
		}
		queues[name] = qc
	}
	return &QueueConfigMapper{queues: queues, path: path}, nil
}

// resolveQueueConfigPath tries, in order: an absolute path from config,
// $PANDA_HOME/etc/panda/<name> if set and present, then
// /etc/panda/<name>.
func resolveQueueConfigPath(name string) (string, error) {
	if name == "" {
		return "", ErrConfigNotFound
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", ErrConfigNotFound
		}
		return name, nil
	}
	if home := os.Getenv("PANDA_HOME"); home != "" {
		candidate := filepath.Join(home, "etc", "panda", name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	candidate := filepath.Join("/etc", "panda", name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", ErrConfigNotFound
}

// HasQueue reports whether name is a known queue.
func (m *QueueConfigMapper) HasQueue(name string) bool {
	_, ok := m.queues[name]
	return ok
}

// GetQueue returns the QueueConfig for name, if any. The returned value
// is a copy of the map header; its Fields map must not be mutated by
// callers, though Go provides no compile-time enforcement of that.
func (m *QueueConfigMapper) GetQueue(name string) (model.QueueConfig, bool) {
	qc, ok := m.queues[name]
	return qc, ok
}

// Snapshot returns a copy of every known queue name to QueueConfig, for
// diagnostics and tests.
func (m *QueueConfigMapper) Snapshot() map[string]model.QueueConfig {
	out := make(map[string]model.QueueConfig, len(m.queues))
	for k, v := range m.queues {
		out[k] = v
	}
	return out
}

// Path returns the resolved path the mapper was loaded from.
func (m *QueueConfigMapper) Path() string {
	return m.path
}
