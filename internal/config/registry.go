// Package config loads the agent's process-wide configuration registry
// and the queue-config mapper. Both are read-only after load; neither
// requires locking once construction returns.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MasterSection holds the process-identity options.
type MasterSection struct {
	UName string `yaml:"uname"`
	GName string `yaml:"gname"`
}

// QConfSection names the queue-config document to load.
type QConfSection struct {
	ConfigFile string `yaml:"configFile"`
}

// StageSection holds per-stage tunables. Every stage name in the fixed
// stage list gets one, defaulted if the document omits it.
type StageSection struct {
	NThreads         int `yaml:"n_threads"`
	SleepTime        int `yaml:"sleepTime"`
	AttemptCap       int `yaml:"attempt_cap"`
	RetentionSeconds int `yaml:"retention_seconds"`
	LeaseSeconds     int `yaml:"lease_seconds"`
}

// Period returns the configured cycle period.
func (s StageSection) Period() time.Duration {
	return time.Duration(s.SleepTime) * time.Second
}

// Retention returns the configured sweep retention window.
func (s StageSection) Retention() time.Duration {
	return time.Duration(s.RetentionSeconds) * time.Second
}

// Lease returns the configured claim lease duration.
func (s StageSection) Lease() time.Duration {
	return time.Duration(s.LeaseSeconds) * time.Second
}

// Registry is the process-wide, read-only configuration.
type Registry struct {
	Master         MasterSection           `yaml:"master"`
	QConf          QConfSection            `yaml:"qconf"`
	Stages         map[string]StageSection `yaml:"stages"`
	CommPoolSize   int                     `yaml:"comm_pool_size"`
	DBPoolSize     int                     `yaml:"db_pool_size"`
	DBPath         string                  `yaml:"db_path"`
	CredentialPath string                  `yaml:"credential_path"`
}

// FixedStageList is the set of eleven stages the supervisor always
// knows about, in startup order. "Execute-first" stages are listed in
// ExecuteFirstStages.
var FixedStageList = []string{
	"credmgr", "cmdmgr", "cacher", "jobfetcher", "propagator", "monitor",
	"preparator", "submitter", "stager", "eventfeeder", "sweeper",
}

// ExecuteFirstStages names stages whose Execute must run synchronously
// once before their periodic loop starts, so dependent stages find
// usable state. Any stage added to this set must be added
// deliberately.
var ExecuteFirstStages = map[string]bool{
	"credmgr": true,
	"cacher":  true,
}

var defaultStageSection = StageSection{
	NThreads:         1,
	SleepTime:        30,
	AttemptCap:       3,
	RetentionSeconds: 3600,
	LeaseSeconds:     90,
}

// StageConfig returns the configured section for name, or the default
// if the document didn't mention it.
func (r *Registry) StageConfig(name string) StageSection {
	if r.Stages == nil {
		return defaultStageSection
	}
	sec, ok := r.Stages[name]
	if !ok {
		return defaultStageSection
	}
	if sec.NThreads <= 0 {
		sec.NThreads = defaultStageSection.NThreads
	}
	if sec.SleepTime <= 0 {
		sec.SleepTime = defaultStageSection.SleepTime
	}
	if sec.AttemptCap <= 0 {
		sec.AttemptCap = defaultStageSection.AttemptCap
	}
	if sec.RetentionSeconds <= 0 {
		sec.RetentionSeconds = defaultStageSection.RetentionSeconds
	}
	if sec.LeaseSeconds <= 0 {
		sec.LeaseSeconds = defaultStageSection.LeaseSeconds
	}
	return sec
}

// LoadRegistry reads the named YAML document into a Registry, applying
// defaults for anything omitted. An empty path yields an all-default
// registry, which is valid for --single test runs.
func LoadRegistry(path string) (*Registry, error) {
	_ = godotenv.Load()

	reg := &Registry{
		CommPoolSize:   getenvInt("COMM_POOL_SIZE", 4),
		DBPoolSize:     getenvInt("DB_POOL_SIZE", 4),
		DBPath:         getenv("DB_PATH", "./agent.db"),
		CredentialPath: getenv("CREDENTIAL_PATH", "./agent.cred"),
	}
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
