package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dex-analytics/internal/domain"
	"dex-analytics/internal/ledger"
	"dex-analytics/internal/scheduler"
	"dex-analytics/internal/upstream"
)

// Manager wires the ingestion drivers to the scheduler and the long-running loops.
type Manager struct {
	scheduler   *scheduler.Scheduler
	ingesters   []*LogIngester
	ledgers     []*ledger.Reconstructor
	loaders     []*PriceLoader
	stream      *upstream.FastPriceStream
	folder      *TickFolder
	logInterval time.Duration
	ledgerEvery time.Duration
	warmPeriods int
	logger      *zap.Logger
}

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	Scheduler      *scheduler.Scheduler
	LogIngesters   []*LogIngester
	Ledgers        []*ledger.Reconstructor
	Loaders        []*PriceLoader
	Stream         *upstream.FastPriceStream // optional
	Folder         *TickFolder               // required when Stream is set
	LogInterval    time.Duration
	LedgerInterval time.Duration
	WarmPeriods    int
	Logger         *zap.Logger
}

// NewManager creates a manager.
func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		scheduler:   opts.Scheduler,
		ingesters:   opts.LogIngesters,
		ledgers:     opts.Ledgers,
		loaders:     opts.Loaders,
		stream:      opts.Stream,
		folder:      opts.Folder,
		logInterval: opts.LogInterval,
		ledgerEvery: opts.LedgerInterval,
		warmPeriods: opts.WarmPeriods,
		logger:      logger.Named("ingestion"),
	}
}

// RegisterTasks adds the log and ledger tasks to the scheduler.
func (m *Manager) RegisterTasks() error {
	for _, g := range m.ingesters {
		tasks := []scheduler.Task{
			{
				Name:     fmt.Sprintf("logs:%d:forward", g.ChainID()),
				Interval: m.logInterval,
				Enabled:  true,
				Run: func(ctx context.Context) error {
					_, err := g.RunForward(ctx)
					return err
				},
			},
			{
				Name:     fmt.Sprintf("logs:%d:backward", g.ChainID()),
				Interval: m.logInterval,
				Enabled:  true,
				Run: func(ctx context.Context) error {
					_, _, err := g.RunBackward(ctx)
					return err
				},
			},
		}
		for _, t := range tasks {
			if err := m.scheduler.Register(t); err != nil {
				return err
			}
		}
	}

	for _, r := range m.ledgers {
		for _, dir := range []domain.Direction{domain.DirectionForward, domain.DirectionBackward} {
			err := m.scheduler.Register(scheduler.Task{
				Name:     fmt.Sprintf("ledger:%d:%s:%s", r.ChainID(), r.Type(), dir),
				Interval: m.ledgerEvery,
				Enabled:  true,
				Run: func(ctx context.Context) error {
					_, err := r.Run(ctx, dir)
					return err
				},
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Run warms the series, then runs the scheduler, the price loops and the tick stream
// until ctx is done or one of them fails.
func (m *Manager) Run(ctx context.Context) error {
	for _, l := range m.loaders {
		if err := l.Warm(ctx, m.warmPeriods); err != nil {
			m.logger.Warn("archive warm-up failed", zap.String("loader", l.Name()), zap.Error(err))
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.scheduler.Run(ctx) })
	for _, l := range m.loaders {
		g.Go(func() error { return l.RunNew(ctx) })
		g.Go(func() error { return l.RunOld(ctx) })
	}
	if m.stream != nil && m.folder != nil {
		ticks := make(chan upstream.Tick, 256)
		g.Go(func() error { return m.stream.Run(ctx, ticks) })
		g.Go(func() error { return m.folder.Run(ctx, ticks) })
	}

	m.logger.Info("ingestion started",
		zap.Int("log_ingesters", len(m.ingesters)),
		zap.Int("ledgers", len(m.ledgers)),
		zap.Int("price_loaders", len(m.loaders)))
	return g.Wait()
}
