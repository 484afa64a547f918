package dbproxy

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

// InsertJob records a newly fetched JobSpec.
func (pr *Proxy) InsertJob(ctx context.Context, j *model.JobSpec) error {
	if j.Payload == nil {
		j.Payload = []byte("{}")
	}
	now := time.Now().UTC()
	_, err := pr.db.ExecContext(ctx, `INSERT INTO job_spec
		(panda_id, attempt, queue_name, status, payload, worker_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
		j.PandaID, j.Attempt, j.QueueName, j.Status, string(j.Payload), now, now)
	return err
}

// TransitionJobStatus advances a JobSpec's status field, the single
// source of truth downstream stages observe.
func (pr *Proxy) TransitionJobStatus(ctx context.Context, pandaID string, status model.JobStatus) error {
	_, err := pr.db.ExecContext(ctx, `UPDATE job_spec SET status = ?, updated_at = ? WHERE panda_id = ?`,
		status, time.Now().UTC(), pandaID)
	return err
}

// BackdateJobUpdatedAt sets a JobSpec's updated_at column directly,
// without touching status. ClaimSweepableOrphanJob reads this column
// to decide retention; this setter exists for tests that need to
// simulate a job having crossed the retention window without waiting
// on a real clock.
func (pr *Proxy) BackdateJobUpdatedAt(ctx context.Context, pandaID string, ts time.Time) error {
	_, err := pr.db.ExecContext(ctx, `UPDATE job_spec SET updated_at = ? WHERE panda_id = ?`, ts, pandaID)
	return err
}

// BindJobWorker associates a JobSpec with the WorkSpec that will run
// it.
func (pr *Proxy) BindJobWorker(ctx context.Context, pandaID string, workerID int64) error {
	_, err := pr.db.ExecContext(ctx, `UPDATE job_spec SET worker_id = ?, updated_at = ? WHERE panda_id = ?`,
		workerID, time.Now().UTC(), pandaID)
	return err
}

// IncrementJobAttempts bumps a job's attempt counter, used by stages
// enforcing an attempt cap before giving up on a row.
func (pr *Proxy) IncrementJobAttempts(ctx context.Context, pandaID string) (int, error) {
	_, err := pr.db.ExecContext(ctx, `UPDATE job_spec SET attempts = attempts + 1 WHERE panda_id = ?`, pandaID)
	if err != nil {
		return 0, err
	}
	var attempts int
	err = pr.db.QueryRowContext(ctx, `SELECT attempts FROM job_spec WHERE panda_id = ?`, pandaID).Scan(&attempts)
	return attempts, err
}

// DeleteJob removes a JobSpec row, used by the sweeper once its
// terminal status is confirmed.
func (pr *Proxy) DeleteJob(ctx context.Context, pandaID string) error {
	_, err := pr.db.ExecContext(ctx, `DELETE FROM job_spec WHERE panda_id = ?`, pandaID)
	return err
}

// JobExists reports whether a JobSpec row is still present, regardless
// of status. Used by the sweeper's tests to confirm a reaped row is
// actually gone rather than merely terminal.
func (pr *Proxy) JobExists(ctx context.Context, pandaID string) (bool, error) {
	var n int
	err := pr.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_spec WHERE panda_id = ?`, pandaID).Scan(&n)
	return n > 0, err
}

// BulkSelectNonTerminalWork lists WorkSpecs in queueName that are not
// in a terminal status, for the monitor to consider (the monitor then
// claims each candidate individually via ClaimWork).
func (pr *Proxy) BulkSelectNonTerminalWork(ctx context.Context, queueName string) ([]model.WorkSpec, error) {
	rows, err := pr.db.QueryContext(ctx, `SELECT worker_id, queue_name, access_point, status, submit_time, modification_time, lock_owner, lease_deadline, kill_attempts
		FROM work_spec WHERE queue_name = ? AND status NOT IN (?, ?, ?, ?, ?)`,
		queueName,
		model.WorkFinished, model.WorkFailed, model.WorkCancelled, model.WorkMissed, model.WorkUnreachable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WorkSpec
	for rows.Next() {
		var w model.WorkSpec
		var submitTime, modTime, leaseDeadline sql.NullTime
		if err := rows.Scan(&w.WorkerID, &w.QueueName, &w.AccessPoint, &w.Status, &submitTime, &modTime, &w.LockOwner, &leaseDeadline, &w.KillAttempts); err != nil {
			return nil, err
		}
		if submitTime.Valid {
			w.SubmitTime = submitTime.Time
		}
		if modTime.Valid {
			w.ModificationTime = modTime.Time
		}
		if leaseDeadline.Valid {
			w.LeaseDeadline = leaseDeadline.Time
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// BulkSelectSweepable lists terminal WorkSpecs in queueName whose
// modification time is older than the retention cutoff.
func (pr *Proxy) BulkSelectSweepable(ctx context.Context, queueName string, before time.Time) ([]model.WorkSpec, error) {
	rows, err := pr.db.QueryContext(ctx, `SELECT worker_id, queue_name, access_point, status, submit_time, modification_time, lock_owner, lease_deadline, kill_attempts
		FROM work_spec WHERE queue_name = ? AND status IN (?, ?, ?, ?, ?) AND modification_time < ?`,
		queueName,
		model.WorkFinished, model.WorkFailed, model.WorkCancelled, model.WorkMissed, model.WorkUnreachable,
		before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WorkSpec
	for rows.Next() {
		var w model.WorkSpec
		var submitTime, modTime, leaseDeadline sql.NullTime
		if err := rows.Scan(&w.WorkerID, &w.QueueName, &w.AccessPoint, &w.Status, &submitTime, &modTime, &w.LockOwner, &leaseDeadline, &w.KillAttempts); err != nil {
			return nil, err
		}
		if submitTime.Valid {
			w.SubmitTime = submitTime.Time
		}
		if modTime.Valid {
			w.ModificationTime = modTime.Time
		}
		if leaseDeadline.Valid {
			w.LeaseDeadline = leaseDeadline.Time
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// InsertWork records a newly created WorkSpec and returns its assigned
// worker ID.
func (pr *Proxy) InsertWork(ctx context.Context, w *model.WorkSpec) (int64, error) {
	now := time.Now().UTC()
	res, err := pr.db.ExecContext(ctx, `INSERT INTO work_spec
		(queue_name, access_point, status, submit_time, modification_time)
		VALUES (?, ?, ?, ?, ?)`,
		w.QueueName, w.AccessPoint, w.Status, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TransitionWorkStatus advances a WorkSpec's status, updating its
// monitor timestamp.
func (pr *Proxy) TransitionWorkStatus(ctx context.Context, workerID int64, status model.WorkStatus, ts time.Time) error {
	_, err := pr.db.ExecContext(ctx, `UPDATE work_spec SET status = ?, modification_time = ? WHERE worker_id = ?`,
		status, ts, workerID)
	return err
}

// IncrementKillAttempts bumps a WorkSpec's kill-attempt counter and
// returns the new value, used by the sweeper's attempt cap.
func (pr *Proxy) IncrementKillAttempts(ctx context.Context, workerID int64) (int, error) {
	_, err := pr.db.ExecContext(ctx, `UPDATE work_spec SET kill_attempts = kill_attempts + 1 WHERE worker_id = ?`, workerID)
	if err != nil {
		return 0, err
	}
	var attempts int
	err = pr.db.QueryRowContext(ctx, `SELECT kill_attempts FROM work_spec WHERE worker_id = ?`, workerID).Scan(&attempts)
	return attempts, err
}

// DeleteWork removes a WorkSpec row.
func (pr *Proxy) DeleteWork(ctx context.Context, workerID int64) error {
	_, err := pr.db.ExecContext(ctx, `DELETE FROM work_spec WHERE worker_id = ?`, workerID)
	return err
}

// JobsForWorker lists JobSpecs bound to a WorkSpec, for the sweeper to
// delete alongside it.
func (pr *Proxy) JobsForWorker(ctx context.Context, workerID int64) ([]string, error) {
	rows, err := pr.db.QueryContext(ctx, `SELECT panda_id FROM job_spec WHERE worker_id = ?`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordFileTransfer logs a staging operation against a worker's access
// point.
func (pr *Proxy) RecordFileTransfer(ctx context.Context, workerID int64, direction, path, status string) error {
	_, err := pr.db.ExecContext(ctx, `INSERT INTO file_transfer(worker_id, direction, path, status, created_at)
		VALUES (?, ?, ?, ?, ?)`, workerID, direction, path, status, time.Now().UTC())
	return err
}

// CountFileTransfers returns how many transfer rows in the given
// direction have been recorded for workerID.
func (pr *Proxy) CountFileTransfers(ctx context.Context, workerID int64, direction string) (int, error) {
	var n int
	err := pr.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_transfer WHERE worker_id = ? AND direction = ?`,
		workerID, direction).Scan(&n)
	return n, err
}

// HasFileTransfer reports whether a transfer in the given direction has
// already been recorded for workerID, so a stage can avoid repeating a
// one-time transfer every cycle.
func (pr *Proxy) HasFileTransfer(ctx context.Context, workerID int64, direction string) (bool, error) {
	n, err := pr.CountFileTransfers(ctx, workerID, direction)
	return n > 0, err
}

// RecordEvent logs one pushed event range.
func (pr *Proxy) RecordEvent(ctx context.Context, workerID int64, pandaID, eventRangeID, status string) error {
	_, err := pr.db.ExecContext(ctx, `INSERT INTO event_record(worker_id, panda_id, event_range_id, status, created_at)
		VALUES (?, ?, ?, ?, ?)`, workerID, pandaID, eventRangeID, status, time.Now().UTC())
	return err
}

// RecordCommandAudit logs that a command was received and applied.
func (pr *Proxy) RecordCommandAudit(ctx context.Context, commandID, verb, result string) error {
	_, err := pr.db.ExecContext(ctx, `INSERT INTO command_audit(command_id, verb, applied_at, result)
		VALUES (?, ?, ?, ?)`, commandID, verb, time.Now().UTC(), result)
	return err
}

// UpsertCacheRow stores or replaces a cached metadata document.
func (pr *Proxy) UpsertCacheRow(ctx context.Context, name string, payload []byte) error {
	_, err := pr.db.ExecContext(ctx, `INSERT INTO cache_row(name, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		name, payload, time.Now().UTC())
	return err
}

// GetCacheRow returns a cached document, if present.
func (pr *Proxy) GetCacheRow(ctx context.Context, name string) ([]byte, bool, error) {
	var payload []byte
	err := pr.db.QueryRowContext(ctx, `SELECT payload FROM cache_row WHERE name = ?`, name).Scan(&payload)
	switch {
	case err == sql.ErrNoRows:
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return payload, true, nil
}

// MarkQueueFetched bumps the queue_state bookkeeping row's last-fetch
// timestamp. Demand-cap headroom itself is read live via
// InFlightCount rather than tracked here, so a job leaving the active
// set (finishing, failing, or being swept) is reflected immediately
// without a separate decrement step.
func (pr *Proxy) MarkQueueFetched(ctx context.Context, queueName string) error {
	_, err := pr.db.ExecContext(ctx, `UPDATE queue_state SET last_fetch_at = ? WHERE queue_name = ?`,
		time.Now().UTC(), queueName)
	return err
}

// InFlightCount returns the number of JobSpecs in queueName that have
// been fetched but not yet reached a terminal status. Computed as a
// live COUNT over job_spec rather than a maintained counter, so it
// never needs an explicit decrement when a job finishes, fails, or is
// swept.
func (pr *Proxy) InFlightCount(ctx context.Context, queueName string) (int, error) {
	var n int
	err := pr.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_spec WHERE queue_name = ? AND status NOT IN (?, ?, ?, ?)`,
		queueName, model.JobFinished, model.JobFailed, model.JobSubmitFailed, model.JobSwept).Scan(&n)
	return n, err
}

// Health reports whether the database is reachable.
func (pr *Proxy) Health(ctx context.Context) error {
	var v int
	return pr.db.QueryRowContext(ctx, `SELECT 1`).Scan(&v)
}
