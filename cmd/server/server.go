package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dex-analytics/internal/api"
	"dex-analytics/internal/candles"
	"dex-analytics/internal/config"
	"dex-analytics/internal/domain"
	"dex-analytics/internal/ingestion"
	"dex-analytics/internal/ledger"
	"dex-analytics/internal/notify"
	"dex-analytics/internal/scheduler"
	"dex-analytics/internal/series"
	"dex-analytics/internal/storage"
	chstore "dex-analytics/internal/storage/clickhouse"
	"dex-analytics/internal/storage/memory"
	pgstore "dex-analytics/internal/storage/postgres"
	"dex-analytics/internal/upstream"
)

// liquiditySymbol is the ledger key of the liquidity token supply.
const liquiditySymbol = "GLP"

// Server holds all components of the stats server.
type Server struct {
	cfg      config.Config
	registry *domain.Registry
	stores   *allStores
	logger   *zap.Logger

	store     *series.Store
	scheduler *scheduler.Scheduler
	manager   *ingestion.Manager
	ledgers   []*ledger.Reconstructor
	loaders   *xsync.Map[string, ingestion.LoaderStatus]
	api       *api.Server
	pool      pond.Pool
	closers   []func()

	mu      sync.Mutex
	started time.Time
}

// allStores holds the persistence implementations.
type allStores struct {
	logs    storage.LogStore
	blocks  storage.BlockStore
	txs     storage.TransactionStore
	state   storage.DerivedStateStore
	meta    storage.MetaStore
	archive storage.CandleArchive // nil without ClickHouse
	health  []api.HealthCheck
}

// createStores creates all required stores.
func createStores(ctx context.Context, cfg config.Config) (*allStores, func(), error) {
	if cfg.UseMemory {
		meta := memory.NewMetaStore()
		stores := &allStores{
			logs:    memory.NewLogStore(),
			blocks:  memory.NewBlockStore(),
			txs:     memory.NewTransactionStore(),
			state:   memory.NewDerivedStateStore(meta),
			meta:    meta,
			archive: memory.NewCandleArchive(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	stores := &allStores{
		logs:   pgstore.NewLogStore(pool),
		blocks: pgstore.NewBlockStore(pool),
		txs:    pgstore.NewTransactionStore(pool),
		state:  pgstore.NewDerivedStateStore(pool),
		meta:   pgstore.NewMetaStore(pool),
		health: []api.HealthCheck{{Name: "postgres", Check: pool.Ping}},
	}

	if cfg.ClickhouseDSN == "" {
		return stores, pool.Close, nil
	}
	chConn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	stores.archive = chstore.NewCandleArchive(chConn)
	stores.health = append(stores.health, api.HealthCheck{Name: "clickhouse", Check: chConn.Ping})

	cleanup := func() {
		_ = chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// selectChains narrows the built-in deployments to the configured chain ids.
func selectChains(ids []int64) (*domain.Registry, error) {
	all := domain.DefaultRegistry()
	chains := make([]domain.Chain, 0, len(ids))
	for _, id := range ids {
		c, ok := all.Chain(id)
		if !ok {
			return nil, fmt.Errorf("unsupported chain id %d", id)
		}
		chains = append(chains, *c)
	}
	return domain.NewRegistry(chains...), nil
}

func newServer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	registry, err := selectChains(cfg.ChainIDs)
	if err != nil {
		return nil, err
	}
	stores, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create stores: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		registry:  registry,
		stores:    stores,
		logger:    logger,
		store:     series.NewStore(series.OptionsFromRegistry(registry, !cfg.IsProduction()), logger),
		scheduler: scheduler.New(cfg.SchedulerTick, !cfg.IsProduction(), logger),
		loaders:   xsync.NewMap[string, ingestion.LoaderStatus](),
		pool:      pond.NewPool(16, pond.WithQueueSize(1024)),
		closers:   []func(){cleanup},
	}
	if err := s.build(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) upstreamOptions() []upstream.Option {
	retry := upstream.DefaultRetryConfig()
	retry.MaxRetries = s.cfg.MaxRetries
	return []upstream.Option{
		upstream.WithTimeout(s.cfg.RequestTimeout),
		upstream.WithRetry(retry),
		upstream.WithLogger(s.logger),
	}
}

// build wires upstream clients, ingestion drivers, reconstructors and the API.
func (s *Server) build(ctx context.Context) error {
	var notifier ingestion.Notifier
	if s.cfg.RedisAddr != "" {
		pub, err := notify.NewRedisPublisher(ctx, s.cfg.RedisAddr, s.logger)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func() { _ = pub.Close() })
		s.stores.health = append(s.stores.health, api.HealthCheck{Name: "redis", Check: pub.Health})
		notifier = pub
	}

	var (
		ingesters []*ingestion.LogIngester
		loaders   []*ingestion.PriceLoader
	)
	for _, id := range s.registry.IDs() {
		chain, _ := s.registry.Chain(id)

		if rpcURL, ok := s.cfg.RPCURLs[id]; ok {
			g, recs, err := s.buildChainLedgers(ctx, chain, rpcURL)
			if err != nil {
				return err
			}
			ingesters = append(ingesters, g)
			s.ledgers = append(s.ledgers, recs...)
		} else {
			s.logger.Warn("no rpc url, log ingestion and ledgers disabled", zap.Int64("chain_id", id))
		}

		if graphURL, ok := s.cfg.GraphURLs[id]; ok {
			src := upstream.NewPriceCandleSource(upstream.NewGraphClient(graphURL, s.upstreamOptions()...), s.cfg.PageSize, s.cfg.PageShards, s.logger)
			s.closers = append(s.closers, src.Close)
			for _, p := range domain.CandlePeriods {
				loaders = append(loaders, s.priceLoader(chain, p, domain.SourceFast, ingestion.GraphFetcher{Source: src, Round: s.cfg.PageSize}, notifier))
			}
		}
		if s.cfg.OracleURL != "" {
			feed := upstream.NewOracleFeed(s.cfg.OracleURL, s.upstreamOptions()...)
			loaders = append(loaders, s.priceLoader(chain, domain.PeriodRaw, domain.SourceChainlink, ingestion.OracleFetcher{Feed: feed, Limit: s.cfg.PageSize}, notifier))
		}
	}

	var (
		stream *upstream.FastPriceStream
		folder *ingestion.TickFolder
	)
	if s.cfg.FastPriceWSURL != "" {
		stream = upstream.NewFastPriceStream(s.cfg.FastPriceWSURL, upstream.DefaultStreamConfig(), s.logger)
		folder = ingestion.NewTickFolder(s.store, domain.CandlePeriods, notifier, s.logger)
	}

	s.manager = ingestion.NewManager(ingestion.ManagerOptions{
		Scheduler:      s.scheduler,
		LogIngesters:   ingesters,
		Ledgers:        s.ledgers,
		Loaders:        loaders,
		Stream:         stream,
		Folder:         folder,
		LogInterval:    s.cfg.LogPollInterval,
		LedgerInterval: s.cfg.LedgerInterval,
		WarmPeriods:    s.cfg.ArchiveWarmPeriods,
		Logger:         s.logger,
	})
	if err := s.manager.RegisterTasks(); err != nil {
		return fmt.Errorf("register tasks: %w", err)
	}

	s.api = api.New(api.Options{
		Registry:       s.registry,
		Store:          s.store,
		Cache:          series.NewRangeCache(s.cfg.RangeCacheSize, s.cfg.RangeCacheTTL),
		Aggregator:     candles.NewAggregator(s.logger),
		Ledger:         s.stores.state,
		LedgerTypes:    []string{ledger.PoolAmountApplier{}.Type(), ledger.SupplyApplier{}.Type()},
		DefaultChainID: s.cfg.DefaultChainID,
		DefaultSource:  s.cfg.DefaultSource,
		Status:         s.status,
		Health:         s.stores.health,
		Logger:         s.logger,
	})
	return nil
}

// buildChainLedgers creates the log ingester of one chain and the reconstructors fed by it.
func (s *Server) buildChainLedgers(ctx context.Context, chain *domain.Chain, rpcURL string) (*ingestion.LogIngester, []*ledger.Reconstructor, error) {
	eth, err := upstream.DialEth(ctx, chain.ID, rpcURL, s.cfg.RequestTimeout, s.upstreamOptions()...)
	if err != nil {
		return nil, nil, err
	}
	s.closers = append(s.closers, eth.Close)

	decoder := upstream.NewLogDecoder(chain.ID, map[string]abi.ABI{
		chain.Vault:          upstream.MustParseABI(upstream.VaultABI),
		chain.LiquidityToken: upstream.MustParseABI(upstream.ERC20ABI),
	})
	g := ingestion.NewLogIngester(ingestion.LogIngesterOptions{
		ChainID:     chain.ID,
		Source:      eth,
		Decoder:     decoder,
		Logs:        s.stores.logs,
		Blocks:      s.stores.blocks,
		Txs:         s.stores.txs,
		Meta:        s.stores.meta,
		Pool:        s.pool,
		BlockWindow: s.cfg.LogBlockWindow,
		StartBlock:  s.cfg.LogStartBlocks[chain.ID],
		Logger:      s.logger,
	})

	ledgerStores := ledger.Stores{Logs: s.stores.logs, Blocks: s.stores.blocks, State: s.stores.state, Meta: s.stores.meta}
	recs := []*ledger.Reconstructor{
		ledger.NewReconstructor(chain, ledger.PoolAmountApplier{}, ledger.PoolAmountSeeder{Reader: eth}, eth, g, ledgerStores, s.cfg.LedgerPageLimit, s.logger),
		ledger.NewReconstructor(chain, ledger.SupplyApplier{Symbol: liquiditySymbol}, ledger.SupplySeeder{Reader: eth, Symbol: liquiditySymbol}, eth, g, ledgerStores, s.cfg.LedgerPageLimit, s.logger),
	}
	return g, recs, nil
}

func (s *Server) priceLoader(chain *domain.Chain, period domain.Period, source domain.Source, fetcher ingestion.PriceFetcher, notifier ingestion.Notifier) *ingestion.PriceLoader {
	return ingestion.NewPriceLoader(ingestion.PriceLoaderOptions{
		Chain:          chain,
		Period:         period,
		Source:         source,
		Fetcher:        fetcher,
		Store:          s.store,
		Archive:        s.stores.archive,
		Notifier:       notifier,
		Status:         s.loaders,
		NewInterval:    s.cfg.LoadNewInterval,
		OldInterval:    s.cfg.LoadOldInterval,
		FailureBackoff: s.cfg.FailureBackoff,
		MaxFailures:    s.cfg.MaxFailures,
		SeenWindow:     s.cfg.SeenWindow,
		SeenCap:        s.cfg.SeenCap,
		Logger:         s.logger,
	})
}

// Run starts ingestion and the HTTP server and blocks until ctx is done or one fails.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.manager.Run(ctx) })
	g.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.logger.Info("shutdown complete")
	return err
}

// Close releases upstream connections, the worker pool and the stores.
func (s *Server) Close() {
	s.pool.StopAndWait()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// StatusResponse is the JSON body of /status.
type StatusResponse struct {
	Status    string                   `json:"status"`
	Uptime    string                   `json:"uptime"`
	Started   time.Time                `json:"started"`
	Tasks     []scheduler.TaskStatus   `json:"tasks"`
	Ledgers   []ledger.Status          `json:"ledgers"`
	Loaders   []ingestion.LoaderStatus `json:"loaders"`
	SeriesLen map[string]int           `json:"series"`
}

func (s *Server) status() any {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	resp := StatusResponse{
		Status:    "running",
		Uptime:    time.Since(started).Truncate(time.Second).String(),
		Started:   started,
		Tasks:     s.scheduler.Status(),
		SeriesLen: make(map[string]int),
	}
	for _, r := range s.ledgers {
		resp.Ledgers = append(resp.Ledgers, r.Status()...)
	}
	s.loaders.Range(func(_ string, st ingestion.LoaderStatus) bool {
		resp.Loaders = append(resp.Loaders, st)
		return true
	})
	sort.Slice(resp.Loaders, func(i, j int) bool { return resp.Loaders[i].Name < resp.Loaders[j].Name })
	for _, k := range s.store.Keys() {
		resp.SeriesLen[k.String()] = s.store.Len(k)
	}
	return resp
}
