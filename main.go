package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fitness-score-engine/config"
	"fitness-score-engine/handlers"
	"fitness-score-engine/middleware"
	"fitness-score-engine/models"
	"fitness-score-engine/services"
	"fitness-score-engine/utils"
	"fitness-score-engine/workers"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		boot, _ := utils.NewLogger("dev")
		boot.Fatal("invalid configuration", "error", err)
	}

	log, err := utils.NewLogger(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		log.Fatal("failed to load seed file", "error", err)
	}

	db, err := utils.OpenDatabase(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database", "error", err)
	}

	clock := clockwork.NewRealClock()
	auth := services.NewAuthorizer(cfg.OperatorID)

	events := services.NewEventLog(db, log.With("component", "events"))
	ledger := services.NewLedgerService(db, clock, log.With("component", "ledger"))
	events.Subscribe(models.EventChallengeCompleted, ledger.HandleEvent)

	// --- randomness oracle ---
	var (
		oracle         services.RandomnessOracle
		externalOracle *services.QueuedRandomnessOracle
	)
	switch cfg.OracleMode {
	case "external":
		externalOracle = services.NewQueuedRandomnessOracle(clock)
		oracle = externalOracle
	default:
		local, err := services.NewLocalRandomnessOracle(cfg.OracleSeed, cfg.OracleDelay, clock, log.With("component", "oracle"))
		if err != nil {
			log.Fatal("failed to create randomness oracle", "error", err)
		}
		defer local.Close()
		oracle = local
	}

	challenge, err := services.NewChallengeEngine(ctx, db, services.ChallengeEngineConfig{
		Oracle:          oracle,
		Ledger:          ledger,
		Events:          events,
		Auth:            auth,
		Clock:           clock,
		Log:             log.With("component", "challenge"),
		BaseBonusAmount: cfg.ChallengeBaseBonus,
		PendingTimeout:  cfg.PendingRequestTimeout,
	})
	if err != nil {
		log.Fatal("failed to start challenge engine", "error", err)
	}

	bonus, err := services.NewBonusScheduler(ctx, db, services.BonusSchedulerConfig{
		Events:   events,
		Auth:     auth,
		Clock:    clock,
		Log:      log.With("component", "bonus"),
		Regions:  regionSeeds(seed),
		Seasonal: seed.Seasonal,
	})
	if err != nil {
		log.Fatal("failed to start bonus scheduler", "error", err)
	}

	// --- cross-chain transport ---
	fees := services.FeeSchedule{BaseFee: cfg.BaseFee, PerByteFee: cfg.PerByteFee, PerComputeUnit: cfg.PerComputeUnitFee}
	var (
		transport services.CrossChainTransport
		redisT    *services.RedisTransport
	)
	if cfg.RedisAddr != "" {
		redisT, err = services.NewRedisTransport(ctx, services.RedisTransportConfig{
			Addr:          cfg.RedisAddr,
			Password:      cfg.RedisPassword,
			ChannelPrefix: cfg.RedisChannelPrefix,
			LocalChain:    cfg.LocalChainSelector,
			Fees:          fees,
		}, log)
		if err != nil {
			log.Fatal("failed to connect cross-chain transport", "error", err)
		}
		defer redisT.Close()
		transport = redisT
	} else {
		log.Warn("⚠️  REDIS_ADDR not set, cross-chain sends stay in an in-memory loopback outbox")
		transport = services.NewLoopbackTransport(cfg.LocalChainSelector, fees)
	}

	crossChain, err := services.NewCrossChainSync(ctx, db, services.CrossChainSyncConfig{
		Transport:        transport,
		Ledger:           ledger,
		Events:           events,
		Auth:             auth,
		Clock:            clock,
		Log:              log.With("component", "crosschain"),
		LocalChain:       cfg.LocalChainSelector,
		Chains:           chainSeeds(seed),
		InitialFeeBudget: cfg.InitialFeeBudget,
	})
	if err != nil {
		log.Fatal("failed to start cross-chain sync", "error", err)
	}
	if redisT != nil {
		if err := redisT.StartForwarder(ctx, crossChain); err != nil {
			log.Fatal("failed to subscribe to cross-chain channel", "error", err)
		}
	}

	// --- hub ---
	hub := services.NewServiceHub(auth, log.With("component", "hub"))
	registrations := map[models.ServiceKind]services.WorkoutSubscriber{
		models.ServiceChallenge:      challenge,
		models.ServiceBonus:          bonus,
		models.ServiceCrossChainSync: crossChain,
	}
	for _, kind := range models.AllServiceKinds {
		if err := hub.RegisterService(cfg.OperatorID, kind, registrations[kind]); err != nil {
			log.Fatal("failed to register service", "kind", kind.String(), "error", err)
		}
	}
	for _, name := range cfg.EnabledServices {
		kind, err := models.ParseServiceKind(name)
		if err != nil {
			log.Fatal("invalid HUB_ENABLED_SERVICES entry", "error", err)
		}
		if err := hub.ToggleService(cfg.OperatorID, kind, true); err != nil {
			log.Fatal("failed to enable service", "kind", name, "error", err)
		}
	}

	// --- workers ---
	var schedulers []gocron.Scheduler
	automation, err := workers.StartAutomation(ctx, bonus, challenge, cfg.AutomationInterval, clock, log)
	if err != nil {
		log.Fatal("failed to start automation", "error", err)
	}
	schedulers = append(schedulers, automation)

	if cfg.WeatherFeedURL != "" {
		go workers.PollWeather(ctx, workers.NewWeatherFeedClient(cfg.WeatherFeedURL, cfg.ServiceToken), bonus, cfg.WeatherPollInterval, log)
	}

	if cfg.SessionSyncURL != "" {
		sessionSync := workers.NewSessionSyncWorker(db, ledger, hub, cfg.SessionSyncURL, "/api/v1/public/sessions", cfg.SessionSyncToken, cfg.SessionSyncInterval, log)
		sessionSync.Start(ctx)
	}

	r2 := utils.R2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		AccessKeySecret: cfg.R2AccessKeySecret,
		Bucket:          cfg.R2Bucket,
		CDNBaseURL:      cfg.R2CDNBaseURL,
	}
	if r2.Enabled() {
		store, err := utils.NewR2Store(ctx, r2)
		if err != nil {
			log.Fatal("failed to initialize R2 client", "error", err)
		}
		export, err := workers.StartLeaderboardExport(ctx, crossChain, store, cfg.LeaderboardCron, clock, log)
		if err != nil {
			log.Fatal("failed to schedule leaderboard export", "error", err)
		}
		schedulers = append(schedulers, export)
	}

	// --- HTTP ---
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed, except the SSE stream which checks its own token
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, log, "/events/stream"))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Operator-ID, Last-Event-ID, Cache-Control",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	handlers.SetupRoutes(app, &handlers.Engine{
		Ledger:     ledger,
		Challenge:  challenge,
		Bonus:      bonus,
		CrossChain: crossChain,
		Hub:        hub,
		Events:     events,
		Oracle:     externalOracle,
		Log:        log,
	}, cfg.ServiceToken)

	go func() {
		if err := app.Listen(cfg.Listen); err != nil {
			log.Error("Server error", "error", err)
		}
	}()

	log.Info("✅ Server running", "listen", cfg.Listen)
	log.Info("✅ Hub services", "status", hub.Status())
	log.Info("✅ CORS configured", "origins", cfg.AllowedOrigins)

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", "error", err)
	}
	for _, s := range schedulers {
		if err := s.Shutdown(); err != nil {
			log.Error("scheduler shutdown failed", "error", err)
		}
	}
}

func regionSeeds(seed *config.Seed) []services.RegionSeed {
	if len(seed.Regions) == 0 {
		return nil
	}
	out := make([]services.RegionSeed, 0, len(seed.Regions))
	for _, r := range seed.Regions {
		out = append(out, services.RegionSeed{Name: r.Name, BaseBonus: r.BaseBonus, Enabled: r.Enabled})
	}
	return out
}

func chainSeeds(seed *config.Seed) []services.ChainConfigInput {
	out := make([]services.ChainConfigInput, 0, len(seed.Chains))
	for _, c := range seed.Chains {
		out = append(out, services.ChainConfigInput{
			Selector:      c.Selector,
			DisplayName:   c.Name,
			Enabled:       c.Enabled,
			ComputeBudget: c.ComputeBudget,
		})
	}
	return out
}
