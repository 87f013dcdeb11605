package store

import (
	"context"
	"fmt"

	"github.com/longtable/longtable/internal/world"
)

// Save persists w as a committed snapshot, atomically inserting the
// snapshot row and advancing head in a single transaction (grounded on
// the teacher's WriteSyncFiringAtomic: a commit is only ever visible to
// readers once every row it implies is written). ON CONFLICT(tick) DO
// NOTHING makes re-saving the same tick idempotent, mirroring the
// teacher's invocation/completion idempotency discipline - a crashed
// writer retrying the same tick never produces a duplicate or a partial
// row.
func (s *Store) Save(ctx context.Context, w *world.World) error {
	frame, err := EncodeFrame(w)
	if err != nil {
		return fmt.Errorf("save tick %d: encode frame: %w", w.Tick, err)
	}
	blob, err := marshalFrame(frame)
	if err != nil {
		return fmt.Errorf("save tick %d: marshal frame: %w", w.Tick, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save tick %d: begin tx: %w", w.Tick, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (tick, content_hash, seed, frame, created_at)
		VALUES (?, ?, ?, ?, unixepoch())
		ON CONFLICT(tick) DO NOTHING
	`, int64(w.Tick), int64(w.Hash()), int64(w.Seed), blob)
	if err != nil {
		return fmt.Errorf("save tick %d: insert snapshot: %w", w.Tick, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO head (id, tick) VALUES (0, ?)
		ON CONFLICT(id) DO UPDATE SET tick = excluded.tick
		WHERE excluded.tick >= head.tick
	`, int64(w.Tick))
	if err != nil {
		return fmt.Errorf("save tick %d: update head: %w", w.Tick, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save tick %d: commit: %w", w.Tick, err)
	}
	return nil
}
