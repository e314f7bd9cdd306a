package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
)

var (
	// ErrRollbackUnsupported is returned when the context store keeps no
	// checkpoint history or no bar store is configured.
	ErrRollbackUnsupported = errors.New("rollback needs a context history and a bar store")
)

// RollbackResult describes a completed rollback.
type RollbackResult struct {
	// From is the last bar time of the restored checkpoint; zero when the
	// series restarted from a fresh context.
	From           time.Time `json:"from"`
	SwingsDeleted  int64     `json:"swings_deleted"`
	BarsReplayed   int       `json:"bars_replayed"`
	SwingsReplayed int       `json:"swings_replayed"`
}

// Rollback rewinds the worker to the latest checkpoint strictly before t,
// discards swings and checkpoints after it and replays the stored bars from
// there. It is used after bars at or after t were corrected in the bar store.
func (w *Worker) Rollback(ctx context.Context, t time.Time) (RollbackResult, error) {
	var res RollbackResult
	err := w.do(func() error {
		var err error
		res, err = w.rollback(ctx, t)
		return err
	})
	return res, err
}

func (w *Worker) rollback(ctx context.Context, t time.Time) (RollbackResult, error) {
	var res RollbackResult
	contexts, ok := w.deps.Contexts.(storage.ContextHistory)
	if !ok || w.deps.Bars == nil {
		return res, ErrRollbackUnsupported
	}

	ck, err := contexts.LoadContextBefore(ctx, w.key, t)
	switch {
	case errors.Is(err, storage.ErrContextNotFound):
		ck = nil
	case err != nil:
		return res, fmt.Errorf("failed to load checkpoint before %s: %w", t.Format(time.RFC3339), err)
	}
	if ck != nil {
		res.From = ck.LastBarTime
	}

	pre, post, err := loadWindow(ctx, w.deps.Bars, w.key, res.From, w.cfg.capacity())
	if err != nil {
		return res, err
	}

	if ck != nil {
		if len(pre) == 0 || !pre[len(pre)-1].Time.Equal(ck.LastBarTime) {
			return res, fmt.Errorf("%w: checkpoint at %s", ErrSeedMismatch, ck.LastBarTime.Format(time.RFC3339))
		}
		if ck.ReverseBarsCount != w.cfg.Engine.ReverseBarsCount {
			return res, fmt.Errorf("checkpoint reverse bars count %d does not match %d", ck.ReverseBarsCount, w.cfg.Engine.ReverseBarsCount)
		}
	}

	if err := contexts.DeleteContextsAfter(ctx, w.key, res.From); err != nil {
		return res, fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	if w.deps.Swings != nil {
		n, err := w.deps.Swings.DeleteSwingsAfter(ctx, w.key, res.From)
		if err != nil {
			return res, fmt.Errorf("failed to delete swings: %w", err)
		}
		res.SwingsDeleted = n
	}

	kept := w.swings.Clone()
	kept.DeleteAfter(res.From)
	if err := w.reset(&Seed{Context: ck, Bars: pre, Swings: kept.All()}); err != nil {
		return res, err
	}

	before := w.swings.Len()
	for _, bar := range post {
		w.handle(bar, false)
	}
	if w.sinceCheckpoint > 0 {
		w.checkpoint()
	}
	res.BarsReplayed = len(post)
	res.SwingsReplayed = w.swings.Len() - before

	logger.Info("Series rolled back",
		logger.Series(w.key),
		logger.Time("requested", t),
		logger.Time("from", res.From),
		logger.Int64("swings_deleted", res.SwingsDeleted),
		logger.Int("bars_replayed", res.BarsReplayed),
		logger.Int("swings_replayed", res.SwingsReplayed),
	)
	return res, nil
}
