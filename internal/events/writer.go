package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event types emitted by the run controller, one per state transition.
const (
	RunCreated      = "run.created"
	RunPlanning     = "run.planning"
	RunPlanned      = "run.planned"
	RunRunning      = "run.running"
	RunJudging      = "run.judging"
	RunJudged       = "run.judged"
	RunReplanning   = "run.replanning"
	RunDelivered    = "run.delivered"
	RunFailed       = "run.failed"
	RunStopped      = "run.stopped"
	TargetCoding    = "target.coding"
	TargetVerifying = "target.verifying"
	TargetPassed    = "target.passed"
	TargetFailed    = "target.failed"
)

type EventPayload map[string]any

// Notification is the best-effort signal handed to subscribers when an
// event is appended. Consumers needing ordered history read the event log.
type Notification struct {
	Type    string
	RunID   string
	Target  string
	Message string
}

// Writer appends transition events inside the caller's transaction and
// fans a best-effort notification out to subscribers.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time

	mu   sync.Mutex
	subs []func(Notification)
}

// Subscribe registers a notification callback. Callbacks must not block.
func (w *Writer) Subscribe(fn func(Notification)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

func (w *Writer) notify(n Notification) {
	w.mu.Lock()
	subs := make([]func(Notification), len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()
	for _, fn := range subs {
		fn(n)
	}
}

// Append writes one event row within tx.
func (w *Writer) Append(ctx context.Context, tx *sql.Tx, evtType, runID, target, actorID, message string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,run_id,target,actor_id,message,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(runID), nullable(target), actorID, nullable(message), string(data))
	if err != nil {
		return err
	}
	w.notify(Notification{Type: evtType, RunID: runID, Target: target, Message: message})
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
