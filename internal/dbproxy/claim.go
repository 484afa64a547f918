package dbproxy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkbatx/edge-dispatch-agent/internal/model"
)

// ErrNoClaimableRow is returned by the Claim* operations when no row
// currently matches the requested status set and lease condition. It
// is not an error condition for callers: it means "nothing to do this
// cycle".
var ErrNoClaimableRow = errors.New("dbproxy: no claimable row")

func statusPlaceholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}

// ClaimJob atomically selects one JobSpec in queueName whose status is
// in statuses and whose lease is free or expired, marks it held by
// lockOwner with the given lease duration, and returns it. Returns
// ErrNoClaimableRow if nothing matched.
func (pr *Proxy) ClaimJob(ctx context.Context, queueName string, statuses []model.JobStatus, lockOwner string, lease time.Duration) (*model.JobSpec, error) {
	now := time.Now().UTC()
	deadline := now.Add(lease)
	token := uuid.NewString()
	whereArgs := make([]any, 0, len(statuses)+2)
	whereArgs = append(whereArgs, queueName)
	for _, s := range statuses {
		whereArgs = append(whereArgs, string(s))
	}
	whereArgs = append(whereArgs, now)

	query := fmt.Sprintf(`UPDATE job_spec SET lock_owner = ?, lease_token = ?, lease_deadline = ?
		WHERE panda_id = (
			SELECT panda_id FROM job_spec
			WHERE queue_name = ? AND status IN (%s) AND (lock_owner = '' OR lease_deadline < ?)
			ORDER BY panda_id LIMIT 1
		)
		RETURNING panda_id, attempt, queue_name, status, payload, worker_id, lock_owner, lease_token, lease_deadline, attempts`,
		statusPlaceholders(len(statuses)))
	// lock_owner/lease_token/lease_deadline bind params go first in the
	// SET clause, followed by the WHERE subquery params.
	bindArgs := append([]any{lockOwner, token, deadline}, whereArgs...)
	row := pr.db.QueryRowContext(ctx, query, bindArgs...)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*model.JobSpec, error) {
	var j model.JobSpec
	var workerID sql.NullInt64
	var leaseDeadline sql.NullTime
	var payload []byte
	err := row.Scan(&j.PandaID, &j.Attempt, &j.QueueName, &j.Status, &payload, &workerID, &j.LockOwner, &j.LeaseToken, &leaseDeadline, &j.Attempts)
	switch {
	case err == sql.ErrNoRows:
		return nil, ErrNoClaimableRow
	case err != nil:
		return nil, err
	}
	j.Payload = payload
	if workerID.Valid {
		id := workerID.Int64
		j.WorkerID = &id
	}
	if leaseDeadline.Valid {
		j.LeaseDeadline = leaseDeadline.Time
	}
	return &j, nil
}

// ReleaseJob clears a job's lock, returning it to the claimable pool
// immediately instead of waiting for lease expiry.
func (pr *Proxy) ReleaseJob(ctx context.Context, pandaID string) error {
	_, err := pr.db.ExecContext(ctx, `UPDATE job_spec SET lock_owner = '', lease_token = '', lease_deadline = NULL WHERE panda_id = ?`, pandaID)
	return err
}

// ClaimWork atomically selects one WorkSpec in queueName whose status
// is in statuses and whose lease is free or expired, in the same
// manner as ClaimJob.
func (pr *Proxy) ClaimWork(ctx context.Context, queueName string, statuses []model.WorkStatus, lockOwner string, lease time.Duration) (*model.WorkSpec, error) {
	now := time.Now().UTC()
	deadline := now.Add(lease)
	token := uuid.NewString()
	whereArgs := make([]any, 0, len(statuses)+2)
	whereArgs = append(whereArgs, queueName)
	for _, s := range statuses {
		whereArgs = append(whereArgs, string(s))
	}
	whereArgs = append(whereArgs, now)

	query := fmt.Sprintf(`UPDATE work_spec SET lock_owner = ?, lease_token = ?, lease_deadline = ?
		WHERE worker_id = (
			SELECT worker_id FROM work_spec
			WHERE queue_name = ? AND status IN (%s) AND (lock_owner = '' OR lease_deadline < ?)
			ORDER BY worker_id LIMIT 1
		)
		RETURNING worker_id, queue_name, access_point, status, submit_time, modification_time, lock_owner, lease_token, lease_deadline, kill_attempts`,
		statusPlaceholders(len(statuses)))
	bindArgs := append([]any{lockOwner, token, deadline}, whereArgs...)
	row := pr.db.QueryRowContext(ctx, query, bindArgs...)
	return scanWork(row)
}

func scanWork(row *sql.Row) (*model.WorkSpec, error) {
	var w model.WorkSpec
	var submitTime, modTime, leaseDeadline sql.NullTime
	err := row.Scan(&w.WorkerID, &w.QueueName, &w.AccessPoint, &w.Status, &submitTime, &modTime, &w.LockOwner, &w.LeaseToken, &leaseDeadline, &w.KillAttempts)
	switch {
	case err == sql.ErrNoRows:
		return nil, ErrNoClaimableRow
	case err != nil:
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
	return &w, nil
}

// ClaimSweepableWork atomically selects one WorkSpec in queueName whose
// status is in statuses, whose modification time is older than before,
// and whose lease is free or expired. Used by the sweeper so retention
// filtering and claim locking happen in a single statement.
func (pr *Proxy) ClaimSweepableWork(ctx context.Context, queueName string, statuses []model.WorkStatus, before time.Time, lockOwner string, lease time.Duration) (*model.WorkSpec, error) {
	now := time.Now().UTC()
	deadline := now.Add(lease)
	token := uuid.NewString()
	whereArgs := make([]any, 0, len(statuses)+3)
	whereArgs = append(whereArgs, queueName)
	for _, s := range statuses {
		whereArgs = append(whereArgs, string(s))
	}
	whereArgs = append(whereArgs, before, now)

	query := fmt.Sprintf(`UPDATE work_spec SET lock_owner = ?, lease_token = ?, lease_deadline = ?
		WHERE worker_id = (
			SELECT worker_id FROM work_spec
			WHERE queue_name = ? AND status IN (%s) AND modification_time < ? AND (lock_owner = '' OR lease_deadline < ?)
			ORDER BY worker_id LIMIT 1
		)
		RETURNING worker_id, queue_name, access_point, status, submit_time, modification_time, lock_owner, lease_token, lease_deadline, kill_attempts`,
		statusPlaceholders(len(statuses)))
	bindArgs := append([]any{lockOwner, token, deadline}, whereArgs...)
	row := pr.db.QueryRowContext(ctx, query, bindArgs...)
	return scanWork(row)
}

// ClaimSweepableOrphanJob atomically selects one JobSpec in queueName
// that is terminal, was never bound to a WorkSpec (a submission or
// preparation failure before any WorkSpec existed), and whose
// updated_at is older than before, in the same manner as
// ClaimSweepableWork. Used by the sweeper to reap JobSpecs that a
// WorkSpec-keyed sweep (JobsForWorker) would never reach, since they
// have no worker_id to key off.
func (pr *Proxy) ClaimSweepableOrphanJob(ctx context.Context, queueName string, statuses []model.JobStatus, before time.Time, lockOwner string, lease time.Duration) (*model.JobSpec, error) {
	now := time.Now().UTC()
	deadline := now.Add(lease)
	token := uuid.NewString()
	whereArgs := make([]any, 0, len(statuses)+3)
	whereArgs = append(whereArgs, queueName)
	for _, s := range statuses {
		whereArgs = append(whereArgs, string(s))
	}
	whereArgs = append(whereArgs, before, now)

	query := fmt.Sprintf(`UPDATE job_spec SET lock_owner = ?, lease_token = ?, lease_deadline = ?
		WHERE panda_id = (
			SELECT panda_id FROM job_spec
			WHERE queue_name = ? AND status IN (%s) AND worker_id IS NULL AND updated_at < ? AND (lock_owner = '' OR lease_deadline < ?)
			ORDER BY panda_id LIMIT 1
		)
		RETURNING panda_id, attempt, queue_name, status, payload, worker_id, lock_owner, lease_token, lease_deadline, attempts`,
		statusPlaceholders(len(statuses)))
	bindArgs := append([]any{lockOwner, token, deadline}, whereArgs...)
	row := pr.db.QueryRowContext(ctx, query, bindArgs...)
	return scanJob(row)
}

// ReleaseWork clears a work row's lock.
func (pr *Proxy) ReleaseWork(ctx context.Context, workerID int64) error {
	_, err := pr.db.ExecContext(ctx, `UPDATE work_spec SET lock_owner = '', lease_token = '', lease_deadline = NULL WHERE worker_id = ?`, workerID)
	return err
}
