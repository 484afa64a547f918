// Package model defines the data types shared across the agent: queue
// policy, worker and job records, and their status enumerations.
package model

import (
	"encoding/json"
	"time"
)

// MappingType describes how a queue binds JobSpecs to WorkSpecs.
type MappingType string

const (
	MappingOneWorkerPerJob   MappingType = "one_worker_per_job"
	MappingManyWorkersPerJob MappingType = "many_workers_per_job"
	MappingManyJobsPerWorker MappingType = "many_jobs_per_worker"
	MappingOneToOne          MappingType = "one_to_one"
)

// QueueConfig is one entry of the queue-config mapper, built once at
// startup and never mutated afterward.
type QueueConfig struct {
	QueueName   string
	MappingType MappingType
	LateBinding bool
	// Fields holds every property from the JSON document verbatim,
	// including the ones QueueConfig promotes to named attributes above.
	Fields map[string]json.RawMessage
}

// StringField returns a string-valued property bag field.
func (q QueueConfig) StringField(key string) (string, bool) {
	raw, ok := q.Fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// IntField returns an int-valued property bag field, or def if absent or
// not numeric.
func (q QueueConfig) IntField(key string, def int) int {
	raw, ok := q.Fields[key]
	if !ok {
		return def
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return def
	}
	return n
}

// WorkStatus is the lifecycle status of a WorkSpec.
type WorkStatus string

const (
	WorkUndefined   WorkStatus = "undefined"
	WorkSubmitted   WorkStatus = "submitted"
	WorkRunning     WorkStatus = "running"
	WorkFinished    WorkStatus = "finished"
	WorkFailed      WorkStatus = "failed"
	WorkCancelled   WorkStatus = "cancelled"
	WorkMissed      WorkStatus = "missed"
	WorkKillFailed  WorkStatus = "kill_failed"
	WorkUnreachable WorkStatus = "unreachable"
)

// IsTerminal reports whether status is a final WorkSpec state the
// sweeper is allowed to retire.
func (s WorkStatus) IsTerminal() bool {
	switch s {
	case WorkFinished, WorkFailed, WorkCancelled, WorkMissed, WorkUnreachable:
		return true
	default:
		return false
	}
}

// WorkSpec is a worker record representing one unit of local execution.
type WorkSpec struct {
	WorkerID         int64
	QueueName        string
	AccessPoint      string
	Status           WorkStatus
	SubmitTime       time.Time
	ModificationTime time.Time
	JobSpecs         []*JobSpec

	LockOwner     string
	LeaseToken    string
	LeaseDeadline time.Time
	KillAttempts  int
}

// JobStatus is the lifecycle status of a JobSpec.
type JobStatus string

const (
	JobNew          JobStatus = "new"
	JobFetched      JobStatus = "fetched"
	JobPrepared     JobStatus = "prepared"
	JobSubmitted    JobStatus = "submitted"
	JobRunning      JobStatus = "running"
	JobFinished     JobStatus = "finished"
	JobFailed       JobStatus = "failed"
	JobSubmitFailed JobStatus = "submit_failed"
	JobSwept        JobStatus = "swept"
)

// IsTerminal reports whether status is a final JobSpec state: one the
// sweeper is allowed to reap once its owning worker (if any) clears
// retention, and one that no longer counts against a queue's
// in-flight demand cap.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobFinished, JobFailed, JobSubmitFailed, JobSwept:
		return true
	default:
		return false
	}
}

// JobSpec is a central-dispatch unit of work.
type JobSpec struct {
	PandaID   string
	Attempt   int
	QueueName string
	Status    JobStatus
	Payload   json.RawMessage
	WorkerID  *int64

	LockOwner     string
	LeaseToken    string
	LeaseDeadline time.Time
	Attempts      int
}
