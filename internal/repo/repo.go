package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pairforge/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,goal,status,COALESCE(plan,'') AS plan,COALESCE(contract_json,'') AS contract_json,iteration,max_iterations,needs_backend,needs_frontend,COALESCE(stop_reason,'') AS stop_reason,created_at,updated_at,completed_at`

func scanRun(scan func(dest ...any) error) (domain.Run, error) {
	var r domain.Run
	var completed sql.NullString
	err := scan(&r.ID, &r.Goal, &r.Status, &r.Plan, &r.ContractJSON, &r.Iteration, &r.MaxIterations,
		&r.NeedsBackend, &r.NeedsFrontend, &r.StopReason, &r.CreatedAt, &r.UpdatedAt, &completed)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if completed.Valid {
		r.CompletedAt = &completed.String
	}
	return r, err
}

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,goal,status,plan,contract_json,iteration,max_iterations,needs_backend,needs_frontend,stop_reason,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Goal, run.Status, nullable(run.Plan), nullable(run.ContractJSON), run.Iteration, run.MaxIterations,
		run.NeedsBackend, run.NeedsFrontend, nullable(run.StopReason), run.CreatedAt, run.UpdatedAt)
	return err
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	return scanRun(row.Scan)
}

func (r Repo) ListRuns(ctx context.Context) ([]domain.Run, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateRun persists the mutable run fields. Status changes go through the
// engine's transition checks before reaching here.
func (r Repo) UpdateRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	var completed any
	if run.CompletedAt != nil {
		completed = *run.CompletedAt
	}
	res, err := tx.ExecContext(ctx, `UPDATE runs SET goal=?,status=?,plan=?,contract_json=?,iteration=?,needs_backend=?,needs_frontend=?,stop_reason=?,updated_at=?,completed_at=? WHERE id=?`,
		run.Goal, run.Status, nullable(run.Plan), nullable(run.ContractJSON), run.Iteration,
		run.NeedsBackend, run.NeedsFrontend, nullable(run.StopReason), run.UpdatedAt, completed, run.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTarget(scan func(dest ...any) error) (domain.Target, error) {
	var t domain.Target
	var resultJSON sql.NullString
	err := scan(&t.RunID, &t.Name, &t.Required, &t.Status, &t.Iteration, &t.MaxIterations, &resultJSON, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var vr domain.VerificationResult
		if err := json.Unmarshal([]byte(resultJSON.String), &vr); err != nil {
			return t, fmt.Errorf("decode target result: %w", err)
		}
		t.LastResult = &vr
	}
	return t, nil
}

func (r Repo) UpsertTarget(ctx context.Context, tx *sql.Tx, t domain.Target) error {
	var resultJSON any
	if t.LastResult != nil {
		data, err := json.Marshal(t.LastResult)
		if err != nil {
			return fmt.Errorf("encode target result: %w", err)
		}
		resultJSON = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO targets(run_id,name,required,status,iteration,max_iterations,last_result_json,updated_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(run_id,name) DO UPDATE SET required=excluded.required,status=excluded.status,iteration=excluded.iteration,max_iterations=excluded.max_iterations,last_result_json=excluded.last_result_json,updated_at=excluded.updated_at`,
		t.RunID, t.Name, t.Required, t.Status, t.Iteration, t.MaxIterations, resultJSON, t.UpdatedAt)
	return err
}

func (r Repo) GetTarget(ctx context.Context, runID, name string) (domain.Target, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT run_id,name,required,status,iteration,max_iterations,last_result_json,updated_at FROM targets WHERE run_id=? AND name=?`, runID, name)
	return scanTarget(row.Scan)
}

func (r Repo) ListTargets(ctx context.Context, runID string) ([]domain.Target, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT run_id,name,required,status,iteration,max_iterations,last_result_json,updated_at FROM targets WHERE run_id=? ORDER BY name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Target
	for rows.Next() {
		t, err := scanTarget(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ReplaceArtifacts stores a whole artifact set for one target sub-iteration.
// Earlier iterations stay for audit; the latest iteration is the live set.
func (r Repo) ReplaceArtifacts(ctx context.Context, tx *sql.Tx, runID, target string, iteration int, set domain.ArtifactSet, ids func() string, now string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE run_id=? AND target=? AND iteration=?`, runID, target, iteration); err != nil {
		return err
	}
	for _, path := range set.Paths() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO artifacts(id,run_id,target,iteration,path,content,created_at) VALUES (?,?,?,?,?,?,?)`,
			ids(), runID, target, iteration, path, set[path], now); err != nil {
			return err
		}
	}
	return nil
}

// LatestArtifacts returns the newest stored artifact set for a target.
func (r Repo) LatestArtifacts(ctx context.Context, runID, target string) (domain.ArtifactSet, int, error) {
	var iteration sql.NullInt64
	row := r.DB.QueryRowContext(ctx, `SELECT MAX(iteration) FROM artifacts WHERE run_id=? AND target=?`, runID, target)
	if err := row.Scan(&iteration); err != nil {
		return nil, 0, err
	}
	if !iteration.Valid {
		return domain.ArtifactSet{}, 0, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT path,content FROM artifacts WHERE run_id=? AND target=? AND iteration=?`, runID, target, iteration.Int64)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	set := domain.ArtifactSet{}
	for rows.Next() {
		var path, content string
		if err := rows.Scan(&path, &content); err != nil {
			return nil, 0, err
		}
		set[path] = content
	}
	return set, int(iteration.Int64), rows.Err()
}

// ListEvents returns events for a run after the given id, oldest first.
func (r Repo) ListEvents(ctx context.Context, runID string, afterID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		clauses = []string{"id > ?"}
		args    = []any{afterID}
	)
	if runID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, runID)
	}
	args = append(args, limit)
	query := `SELECT id,ts,type,COALESCE(run_id,''),COALESCE(target,''),actor_id,COALESCE(message,''),payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id ASC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.Target, &e.ActorID, &e.Message, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestEvents returns the newest events in chronological order,
// optionally filtered by run.
func (r Repo) LatestEvents(ctx context.Context, runID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		where string
		args  []any
	)
	if runID != "" {
		where = "WHERE run_id = ? "
		args = append(args, runID)
	}
	args = append(args, limit)
	query := `SELECT id,ts,type,COALESCE(run_id,''),COALESCE(target,''),actor_id,COALESCE(message,''),payload_json FROM events ` +
		where + `ORDER BY id DESC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.Target, &e.ActorID, &e.Message, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LatestEventID returns the highest event id, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) CountRunsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
