package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"CDPLedger/internal/access"
	"CDPLedger/internal/auction"
	"CDPLedger/internal/config"
	"CDPLedger/internal/core"
	"CDPLedger/internal/ingestion"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/mint"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/oracle"
	"CDPLedger/internal/persistence"
	"CDPLedger/internal/query"
	"CDPLedger/internal/registry"
	"CDPLedger/internal/server"
	"CDPLedger/internal/state"
	"CDPLedger/internal/token"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "validate config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger("cdpledger")
	logger.Info().Msg("cdpledger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Msg("migrations applied")

	snapMgr := persistence.NewSnapshotManager(db)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("load snapshot failed, cold start")
		snap = nil
	}

	// --- Access control and token admission ---
	// Tokens are admitted from config in file order on every start, so each
	// symbol resolves to the same asset identifier across restarts.
	adminRoot := uuid.MustParse(cfg.Engine.AdminRoot)
	acl := access.NewController(adminRoot)
	reg := registry.NewRegistry(acl)

	var debtAsset ledger.AssetID
	for _, t := range cfg.Tokens {
		assetID, err := reg.AddToken(adminRoot, t.Symbol, t.OracleRef, t.Decimals,
			t.Depositable, t.MintableAgainst, t.Tradable)
		if err != nil {
			logger.Fatal().Err(err).Str("symbol", t.Symbol).Msg("admit token")
		}
		if t.Settlement {
			debtAsset = assetID
		}
		logger.Info().Str("symbol", t.Symbol).Uint16("asset_id", uint16(assetID)).Msg("token admitted")
	}

	// --- State ---
	pools := ledger.NewPoolLedger()
	prices := oracle.NewMemoryOracle()
	valuator := state.NewValuator(pools, prices, reg)

	stable := token.NewMemStable()
	native := token.NewMemNative()

	// The engine acts as the stable token's minter and as the spender
	// bidders approve for settlement pulls.
	stable.AddMinter(adminRoot)

	positions := mint.NewEngine(pools, valuator, reg, stable, adminRoot)

	router, err := auction.NewFeeRouter(cfg.Auction.BurnRatio,
		uuid.MustParse(cfg.Auction.FeeVault), cfg.Auction.InitiatorBonus)
	if err != nil {
		logger.Fatal().Err(err).Msg("fee router")
	}

	auctions := auction.NewManager(pools, valuator, reg, stable, native, router, adminRoot, debtAsset)
	positions.SetAuctionGuard(auctions)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Engine ---
	startSequence := int64(0)
	if snap != nil {
		startSequence = snap.Sequence
	}

	persistChan := make(chan core.Output, cfg.Engine.PersistChanSize)
	publishChan := make(chan core.Output, cfg.Engine.PublishChanSize)

	engine := core.NewEngine(startSequence, persistChan, publishChan,
		pools, reg, prices, valuator, positions, auctions, debtAsset, metrics, nil)

	if snap != nil {
		coreSnap, err := snapshotToState(snap)
		if err != nil {
			logger.Fatal().Err(err).Msg("decode snapshot")
		}
		if err := engine.RestoreFromSnapshot(coreSnap); err != nil {
			logger.Fatal().Err(err).Msg("restore snapshot")
		}
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored from snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	logger.Info().Msg("nats connected")

	if err := ingestion.EnsurePriceStream(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure price stream")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	priceChan := make(chan ingestion.RawPrice, cfg.Engine.PriceChanSize)
	subscriber := ingestion.NewPriceSubscriber(js, priceChan)
	if err := subscriber.Subscribe(ctx); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	outboundChan := make(chan ingestion.PublishableEvent, cfg.Engine.PublishChanSize)
	publisher := ingestion.NewOutboundPublisher(js, outboundChan, metrics)

	// --- Persistence worker ---
	persistWorkerChan := make(chan persistence.Output, cfg.Engine.PersistChanSize)
	worker := persistence.NewWorker(db, persistWorkerChan, cfg.Engine.PersistBatchSize,
		cfg.PersistFlushTimeout(), metrics)

	// --- HTTP API ---
	queries := query.NewService(db)
	apiServer := server.NewServer(cfg.Server.HTTPAddr, &server.Deps{
		Engine:        engine,
		Queries:       queries,
		Access:        acl,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLogger("http"),
	})

	// --- Goroutines ---
	errChan := make(chan error, 8)

	go func() {
		errChan <- worker.Run(ctx)
	}()
	go func() {
		errChan <- publisher.Run(ctx)
	}()
	go bridgePersist(ctx, persistChan, persistWorkerChan)
	go bridgePublish(ctx, publishChan, outboundChan)
	go runPriceLoop(ctx, priceChan, engine, metrics, observability.NewLogger("prices"))
	go func() {
		errChan <- apiServer.Start(ctx)
	}()
	go runMetricsServer(ctx, cfg.Server.MetricsAddr, errChan, logger)
	go runPeriodicSnapshots(ctx, engine, snapMgr, cfg.Engine.SnapshotInterval, cfg.Engine.SnapshotKeep, logger)
	go runChannelGauges(ctx, metrics, persistChan, publishChan, priceChan)

	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", startSequence).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("cdpledger ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	cancel()
	subscriber.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	close(persistWorkerChan)
	close(outboundChan)

	if err := takeSnapshot(shutdownCtx, engine, snapMgr, cfg.Engine.SnapshotKeep); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Msg("final snapshot saved")
	}

	logger.Info().Msg("cdpledger shutdown complete")
}

// bridgePersist converts engine outputs to persistence rows. The send is
// blocking: the engine must never outrun the durable log.
func bridgePersist(ctx context.Context, in <-chan core.Output, out chan<- persistence.Output) {
	for {
		select {
		case <-ctx.Done():
			return
		case output, ok := <-in:
			if !ok {
				return
			}

			pOut := persistence.Output{
				EventRow: persistence.EventRow{
					Sequence:  output.Envelope.Sequence,
					EventType: output.Envelope.EventType.String(),
					Payload:   persistence.MarshalPayload(output.Envelope.Payload),
					Timestamp: time.Unix(output.Envelope.Timestamp, 0).UTC(),
				},
			}
			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOut.JournalRows = append(pOut.JournalRows, persistence.JournalRow{
						JournalID:     j.JournalID.String(),
						BatchID:       j.BatchID.String(),
						OpRef:         j.OpRef,
						Sequence:      output.Envelope.Sequence,
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						AssetID:       uint16(j.AssetID),
						Amount:        j.Amount,
						JournalType:   j.JournalType.String(),
						Timestamp:     j.Timestamp,
					})
				}
			}

			select {
			case out <- pOut:
			case <-ctx.Done():
				return
			}
		}
	}
}

// bridgePublish converts engine outputs to outbound events. Sends are
// non-blocking on the engine side already; here the channel is sized so a
// slow NATS connection only delays, never deadlocks.
func bridgePublish(ctx context.Context, in <-chan core.Output, out chan<- ingestion.PublishableEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case output, ok := <-in:
			if !ok {
				return
			}

			evt := ingestion.PublishableEvent{
				Sequence:  output.Envelope.Sequence,
				EventType: output.Envelope.EventType.String(),
				Payload:   output.Envelope.Payload,
				Timestamp: output.Envelope.Timestamp,
			}

			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runPriceLoop parses raw NATS price messages and applies them to the
// engine. Invalid messages are acked so they never redeliver; prices for
// unadmitted tokens are skipped the same way.
func runPriceLoop(ctx context.Context, priceChan <-chan ingestion.RawPrice, engine *core.Engine, metrics *observability.Metrics, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-priceChan:
			if !ok {
				return
			}

			pu, err := ingestion.ParsePriceUpdate(raw)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("bad price message")
				raw.AckFunc()
				continue
			}

			if err := engine.SetPrice(pu.Symbol, pu.Price); err != nil {
				logger.Warn().Err(err).Str("symbol", pu.Symbol).Msg("price rejected")
				raw.AckFunc()
				continue
			}

			if metrics != nil {
				metrics.PricesReceived.Inc()
			}
			raw.AckFunc()
		}
	}
}

func runMetricsServer(ctx context.Context, addr string, errChan chan<- error, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- fmt.Errorf("metrics server: %w", err)
	}
}

// runPeriodicSnapshots saves the engine state every interval sequences.
func runPeriodicSnapshots(ctx context.Context, engine *core.Engine, snapMgr *persistence.SnapshotManager, interval int64, keep int, logger zerolog.Logger) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSeq := engine.Sequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := engine.Sequence()
			if currentSeq-lastSeq < interval {
				continue
			}
			if err := takeSnapshot(ctx, engine, snapMgr, keep); err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSeq = currentSeq
			logger.Info().Int64("sequence", currentSeq).Msg("periodic snapshot saved")
		}
	}
}

func takeSnapshot(ctx context.Context, engine *core.Engine, snapMgr *persistence.SnapshotManager, keep int) error {
	coreSnap := engine.CreateSnapshotState()
	data, err := stateToSnapshot(coreSnap)
	if err != nil {
		return err
	}
	if err := snapMgr.SaveSnapshot(ctx, data); err != nil {
		return err
	}
	if keep > 0 {
		if err := snapMgr.PruneSnapshots(ctx, keep); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
	}
	return nil
}

func runChannelGauges(ctx context.Context, metrics *observability.Metrics, persistChan, publishChan chan core.Output, priceChan chan ingestion.RawPrice) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
			metrics.SetChannelMetrics("prices", len(priceChan), cap(priceChan))
		}
	}
}

// ============================================================================
// Snapshot conversion: typed engine state <-> serializable snapshot rows.
// Token admission happens before restore, so every symbol in the snapshot
// resolves to the same asset identifier it had when the snapshot was taken.
// ============================================================================

func stateToSnapshot(s *core.SnapshotState) (*persistence.SnapshotData, error) {
	data := &persistence.SnapshotData{
		Sequence:  s.Sequence,
		NextNonce: s.NextNonce,
		Prices:    make(map[string]int64, len(s.Prices)),
		CreatedAt: time.Now().UTC(),
	}

	for key, balance := range s.Balances {
		symbol, ok := ledger.GetAssetSymbol(key.AssetID)
		if !ok {
			return nil, fmt.Errorf("snapshot: unknown asset %d", key.AssetID)
		}
		entity := ""
		if key.EntityID != [16]byte{} {
			entity = uuid.UUID(key.EntityID).String()
		}
		data.Balances = append(data.Balances, persistence.BalanceSnap{
			Scope:   uint8(key.Scope),
			Entity:  entity,
			SubType: uint8(key.SubType),
			Symbol:  symbol,
			Balance: balance,
		})
	}

	for assetID, price := range s.Prices {
		symbol, ok := ledger.GetAssetSymbol(assetID)
		if !ok {
			return nil, fmt.Errorf("snapshot: unknown asset %d", assetID)
		}
		data.Prices[symbol] = price
	}

	for _, a := range s.Auctions {
		snap := persistence.AuctionSnap{
			Nonce:         a.Nonce,
			Borrower:      a.Borrower.String(),
			Initiator:     a.Initiator.String(),
			StartTime:     a.StartTime,
			Status:        int32(a.Status),
			RemainingDebt: a.RemainingDebt,
			Remaining:     amountsToSnap(a.Remaining),
			BonusPaid:     a.BonusPaid,
		}
		for _, b := range a.Bids {
			snap.Bids = append(snap.Bids, persistence.BidSnap{
				Bidder:        b.Bidder.String(),
				AcceptedAt:    b.AcceptedAt,
				Percentage:    b.Percentage,
				OfferedRatio:  b.OfferedRatio,
				DebtPaid:      b.DebtPaid,
				CollateralOut: amountsToSnap(b.CollateralOut),
			})
		}
		data.Auctions = append(data.Auctions, snap)
	}

	return data, nil
}

func snapshotToState(data *persistence.SnapshotData) (*core.SnapshotState, error) {
	s := &core.SnapshotState{
		Sequence:  data.Sequence,
		NextNonce: data.NextNonce,
		Balances:  make(map[ledger.AccountKey]int64, len(data.Balances)),
		Prices:    make(map[ledger.AssetID]int64, len(data.Prices)),
	}

	for _, b := range data.Balances {
		assetID, ok := ledger.GetAssetID(b.Symbol)
		if !ok {
			return nil, fmt.Errorf("snapshot: asset %s not admitted", b.Symbol)
		}
		key := ledger.AccountKey{
			Scope:   ledger.AccountScope(b.Scope),
			SubType: ledger.AccountSubType(b.SubType),
			AssetID: assetID,
		}
		if b.Entity != "" {
			entity, err := uuid.Parse(b.Entity)
			if err != nil {
				return nil, fmt.Errorf("snapshot: bad entity %q: %w", b.Entity, err)
			}
			key.EntityID = entity
		}
		s.Balances[key] = b.Balance
	}

	for symbol, price := range data.Prices {
		assetID, ok := ledger.GetAssetID(symbol)
		if !ok {
			return nil, fmt.Errorf("snapshot: asset %s not admitted", symbol)
		}
		s.Prices[assetID] = price
	}

	for _, a := range data.Auctions {
		borrower, err := uuid.Parse(a.Borrower)
		if err != nil {
			return nil, fmt.Errorf("snapshot: bad borrower %q: %w", a.Borrower, err)
		}
		initiator, err := uuid.Parse(a.Initiator)
		if err != nil {
			return nil, fmt.Errorf("snapshot: bad initiator %q: %w", a.Initiator, err)
		}
		remaining, err := snapToAmounts(a.Remaining)
		if err != nil {
			return nil, err
		}

		restored := &auction.Auction{
			Nonce:         a.Nonce,
			Borrower:      borrower,
			Initiator:     initiator,
			StartTime:     a.StartTime,
			Status:        auction.Status(a.Status),
			Remaining:     remaining,
			RemainingDebt: a.RemainingDebt,
			BonusPaid:     a.BonusPaid,
		}
		for _, b := range a.Bids {
			bidder, err := uuid.Parse(b.Bidder)
			if err != nil {
				return nil, fmt.Errorf("snapshot: bad bidder %q: %w", b.Bidder, err)
			}
			out, err := snapToAmounts(b.CollateralOut)
			if err != nil {
				return nil, err
			}
			restored.Bids = append(restored.Bids, auction.Bid{
				Bidder:        bidder,
				AcceptedAt:    b.AcceptedAt,
				Percentage:    b.Percentage,
				OfferedRatio:  b.OfferedRatio,
				DebtPaid:      b.DebtPaid,
				CollateralOut: out,
			})
		}
		s.Auctions = append(s.Auctions, restored)
	}

	return s, nil
}

func amountsToSnap(entries []ledger.AssetAmount) []persistence.AmountSnap {
	out := make([]persistence.AmountSnap, 0, len(entries))
	for _, entry := range entries {
		symbol, _ := ledger.GetAssetSymbol(entry.AssetID)
		out = append(out, persistence.AmountSnap{Symbol: symbol, Amount: entry.Amount})
	}
	return out
}

func snapToAmounts(entries []persistence.AmountSnap) ([]ledger.AssetAmount, error) {
	out := make([]ledger.AssetAmount, 0, len(entries))
	for _, entry := range entries {
		assetID, ok := ledger.GetAssetID(entry.Symbol)
		if !ok {
			return nil, fmt.Errorf("snapshot: asset %s not admitted", entry.Symbol)
		}
		out = append(out, ledger.AssetAmount{AssetID: assetID, Amount: entry.Amount})
	}
	return out, nil
}
