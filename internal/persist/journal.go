package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/voxsim/server/internal/world"
)

// JournalEntry is one applied event of a run.
type JournalEntry struct {
	RunID uuid.UUID
	Event world.Event
}

type JournalRepo struct {
	db *DB
}

func NewJournalRepo(db *DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// WriteBatch atomically writes a batch of journal entries in a single transaction.
func (r *JournalRepo) WriteBatch(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		payload, err := json.Marshal(e.Event)
		if err != nil {
			return fmt.Errorf("journal encode tick %d: %w", e.Event.Tick, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO event_journal (run_id, tick, payload) VALUES ($1, $2, $3)`,
			e.RunID, int64(e.Event.Tick), string(payload),
		); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Events returns the journaled events of a run from fromTick on, in
// application order.
func (r *JournalRepo) Events(ctx context.Context, runID uuid.UUID, fromTick uint64) ([]world.Event, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT payload FROM event_journal
		 WHERE run_id = $1 AND tick >= $2
		 ORDER BY tick, id`, runID, int64(fromTick),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []world.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev world.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("journal decode: %w", err)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// BatchWriter is the write side of the journal.
type BatchWriter interface {
	WriteBatch(ctx context.Context, entries []JournalEntry) error
}

// JournalWriter takes applied events from the simulation goroutine without
// blocking it and flushes them to the journal in batches.
type JournalWriter struct {
	repo     BatchWriter
	runID    uuid.UUID
	ch       chan world.Event
	batch    int
	interval time.Duration
	log      *zap.Logger

	dropped atomic.Uint64
	warn    rate.Sometimes
}

func NewJournalWriter(repo BatchWriter, runID uuid.UUID, batch int, interval time.Duration, log *zap.Logger) *JournalWriter {
	if batch <= 0 {
		batch = 256
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &JournalWriter{
		repo:     repo,
		runID:    runID,
		ch:       make(chan world.Event, batch*4),
		batch:    batch,
		interval: interval,
		log:      log,
		warn:     rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Record queues ev. A full queue drops the event.
func (w *JournalWriter) Record(ev world.Event) {
	select {
	case w.ch <- ev.Clone():
	default:
		n := w.dropped.Add(1)
		w.warn.Do(func() {
			w.log.Warn("事件日誌佇列已滿，丟棄事件", zap.Uint64("tick", ev.Tick), zap.Uint64("dropped", n))
		})
	}
}

func (w *JournalWriter) Dropped() uint64 { return w.dropped.Load() }

// Run flushes queued events until ctx is done, then writes what is left.
func (w *JournalWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	buf := make([]JournalEntry, 0, w.batch)
	flush := func(ctx context.Context) {
		if len(buf) == 0 {
			return
		}
		if err := w.repo.WriteBatch(ctx, buf); err != nil {
			w.log.Error("事件日誌寫入失敗", zap.Int("entries", len(buf)), zap.Error(err))
		}
		buf = buf[:0]
	}

	for {
		select {
		case ev := <-w.ch:
			buf = append(buf, JournalEntry{RunID: w.runID, Event: ev})
			if len(buf) >= w.batch {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
		drain:
			for {
				select {
				case ev := <-w.ch:
					buf = append(buf, JournalEntry{RunID: w.runID, Event: ev})
				default:
					break drain
				}
			}
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(final)
			cancel()
			return nil
		}
	}
}
