package collection

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/RiiPPeR/chiclana-records-back/internal/config"
	"github.com/RiiPPeR/chiclana-records-back/internal/db"
)

// Reconciler periodically deletes catalog rows that no membership references.
// Add and Remove already hold both writes in one transaction, so the sweep
// normally finds nothing; it cleans up after older writers that did the two
// steps separately and died in between.
type Reconciler struct {
	db       *gorm.DB
	logger   *zap.SugaredLogger
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewReconciler(lc fx.Lifecycle, cfg *config.Config, gdb *gorm.DB, l *zap.SugaredLogger) (*Reconciler, error) {
	interval, err := time.ParseDuration(cfg.ReconcileInterval)
	if err != nil {
		return nil, errors.Wrap(err, "parse reconcile interval")
	}

	instance := Reconciler{
		db:       gdb,
		logger:   l,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go instance.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			l.Info("Stopping orphan reconciler.")
			close(instance.stop)
			select {
			case <-instance.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})

	return &instance, nil
}

func (r *Reconciler) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			deleted, err := r.Sweep(context.Background())
			if err != nil {
				r.logger.Errorw("orphan sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				r.logger.Infow("orphan sweep deleted catalog rows", "count", deleted)
			}
		}
	}
}

// Sweep deletes every catalog row with zero memberships and reports how many
// rows went away.
func (r *Reconciler) Sweep(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM user_records WHERE user_records.discogs_id = records.discogs_id)").
		Delete(&db.Record{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "delete orphaned catalog records")
	}
	return res.RowsAffected, nil
}
