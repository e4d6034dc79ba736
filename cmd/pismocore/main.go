package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"pismocore/internal/engine"
	"pismocore/internal/event"
	"pismocore/internal/ingestion"
	"pismocore/internal/observability"
	"pismocore/internal/oracle"
	"pismocore/internal/persistence"
	"pismocore/internal/program"
	"pismocore/internal/query"
	"pismocore/internal/server"
)

// Config is loaded from PISMO_* environment variables. Postgres and NATS are
// optional: an empty DSN or URL runs the engine without that integration.
type Config struct {
	PostgresDSN string
	NATSURL     string
	HTTPAddr    string

	EventChanSize       int
	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	MigrationsDir string

	MaxPriceAgeMS  int64
	SharedDecimals uint8
}

func DefaultConfig() Config {
	return Config{
		PostgresDSN:         os.Getenv("PISMO_POSTGRES_DSN"),
		NATSURL:             os.Getenv("PISMO_NATS_URL"),
		HTTPAddr:            envOrDefault("PISMO_HTTP_ADDR", ":8080"),
		EventChanSize:       envIntOrDefault("PISMO_EVENT_CHAN_SIZE", 4096),
		PersistBatchSize:    envIntOrDefault("PISMO_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout: 10 * time.Millisecond,
		MigrationsDir:       envOrDefault("PISMO_MIGRATIONS_DIR", "migrations"),
		MaxPriceAgeMS:       int64(envIntOrDefault("PISMO_MAX_PRICE_AGE_MS", 30_000)),
		SharedDecimals:      uint8(envIntOrDefault("PISMO_SHARED_DECIMALS", 6)),
	}
}

func main() {
	log := observability.NewLogger("main")
	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	prog, err := defaultProgram(cfg.SharedDecimals)
	if err != nil {
		log.Fatal().Err(err).Msg("build program")
	}
	adapter := oracle.NewAdapter(cfg.MaxPriceAgeMS)

	errChan := make(chan error, 4)
	var sinks multiSink

	// --- Postgres (optional) ---
	var db *sql.DB
	var persistChan chan event.Envelope
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()

		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping")
		}
		log.Info().Msg("postgres connected")

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}

		persistChan = make(chan event.Envelope, cfg.EventChanSize)
		worker := persistence.NewWorker(
			db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
			observability.NewLogger("persistence"), metrics,
		)
		go func() {
			errChan <- worker.Run(ctx)
		}()

		sinks = append(sinks, ingestion.NewChannelSink(persistChan, observability.NewLogger("persist-sink"), metrics))
	} else {
		log.Warn().Msg("no postgres dsn, running without event persistence")
	}

	// --- NATS (optional) ---
	var publishChan chan event.Envelope
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		log.Info().Msg("nats connected")

		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure outbound stream")
		}

		publishChan = make(chan event.Envelope, cfg.EventChanSize)
		publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"), metrics)
		go func() {
			errChan <- publisher.Run(ctx)
		}()

		sinks = append(sinks, ingestion.NewChannelSink(publishChan, observability.NewLogger("publish-sink"), metrics))
	} else {
		log.Warn().Msg("no nats url, running without outbound events")
	}

	// --- Engine ---
	eng := engine.New(prog, adapter, sinks, metrics, observability.NewLogger("engine"))

	// One vault per collateral token, created up front.
	nowMS := time.Now().UnixMilli()
	for idx := range prog.SupportedCollateral {
		if _, err := eng.CreateVault(uint64(idx), nowMS); err != nil {
			log.Fatal().Err(err).Uint64("token_index", uint64(idx)).Msg("create vault")
		}
	}

	// --- HTTP server ---
	queryService := query.NewQueryService(eng, db)
	httpServer := server.New(queryService, healthChecker, observability.NewLogger("http"))
	go func() {
		errChan <- httpServer.ListenAndServe(ctx, cfg.HTTPAddr)
	}()

	healthChecker.SetReady(true)
	log.Info().
		Str("http_addr", cfg.HTTPAddr).
		Str("program_id", prog.ID.String()).
		Msg("pismocore ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	cancel()

	if persistChan != nil {
		close(persistChan)
	}
	if publishChan != nil {
		close(publishChan)
	}
	time.Sleep(100 * time.Millisecond)

	log.Info().Msg("shutdown complete")
}

// multiSink fans one envelope out to every registered sink.
type multiSink []engine.EventSink

func (s multiSink) Emit(env event.Envelope) {
	for _, sink := range s {
		sink.Emit(env)
	}
}

// defaultProgram builds the built-in token set: USDC and SOL as collateral,
// SOL, ETH, and BTC as position markets.
func defaultProgram(sharedDecimals uint8) (*program.Program, error) {
	usdcFeed := mustHex("eaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a")
	solFeed := mustHex("ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d")
	ethFeed := mustHex("ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace")
	btcFeed := mustHex("e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43")

	collateral := []program.TokenDescriptor{
		{Symbol: "USDC", Decimals: 6, PriceFeedID: usdcFeed, Oracle: program.OracleKindPyth},
		{Symbol: "SOL", Decimals: 9, PriceFeedID: solFeed, Oracle: program.OracleKindPyth},
	}
	positions := []program.TokenDescriptor{
		{Symbol: "SOL", Decimals: 9, PriceFeedID: solFeed, Oracle: program.OracleKindPyth},
		{Symbol: "ETH", Decimals: 8, PriceFeedID: ethFeed, Oracle: program.OracleKindPyth},
		{Symbol: "BTC", Decimals: 8, PriceFeedID: btcFeed, Oracle: program.OracleKindPyth},
	}
	maxLeverage := []uint16{20, 25, 25}

	return program.New(collateral, positions, sharedDecimals, maxLeverage)
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
