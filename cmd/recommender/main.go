package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/examforge/recommender/internal/events"
	"github.com/examforge/recommender/internal/prefs"
	"github.com/examforge/recommender/internal/recommend"
	"github.com/examforge/recommender/internal/recommend/cache"
	"github.com/examforge/recommender/internal/recommend/handler"
	"github.com/examforge/recommender/internal/store"
	"github.com/examforge/recommender/pkg/config"
	"github.com/examforge/recommender/pkg/health"
	"github.com/examforge/recommender/pkg/kafka"
	"github.com/examforge/recommender/pkg/logger"
	"github.com/examforge/recommender/pkg/metrics"
	"github.com/examforge/recommender/pkg/middleware"
	"github.com/examforge/recommender/pkg/postgres"
	pkgredis "github.com/examforge/recommender/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting recommender service", "port", cfg.Server.Port)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("postgres connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	var resultCache *cache.ResultCache
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		resultCache = cache.New(redisClient, cfg.Redis, m)
		slog.Info("result cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}

	prefStore := prefs.NewStore(prefs.NewPostgresRepository(db), cfg.Recommender.DeclaredScore)
	examSvc := recommend.NewService[store.Exam]("exam", store.NewExamStore(db), prefStore, m)
	questionSvc := recommend.NewService[store.Question]("question", store.NewQuestionStore(db), prefStore, m)

	// Warm both indexes so the first recommendation request does not pay
	// for a full corpus scan.
	if _, err := examSvc.Setup(ctx, false); err != nil {
		slog.Error("initial exam index build failed", "error", err)
		os.Exit(1)
	}
	if _, err := questionSvc.Setup(ctx, false); err != nil {
		slog.Error("initial question index build failed", "error", err)
		os.Exit(1)
	}

	activityProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.UserActivity)
	defer activityProducer.Close()
	collector := events.NewCollector(activityProducer, 100, 0)
	collector.Start(ctx)
	defer collector.Close()
	slog.Info("event collector started", "topic", cfg.Kafka.Topics.UserActivity)

	dispatcher := events.NewDispatcher(
		examSvc, questionSvc, resultCache,
		cfg.Recommender.PrimaryIncrement, cfg.Recommender.SecondaryIncrement,
		m,
	)
	// Purchases and upvotes arrive on the activity topic; exam and question
	// creation notifications from the catalog service arrive on their own
	// topic. Both feed the same dispatcher.
	for _, topic := range []string{cfg.Kafka.Topics.UserActivity, cfg.Kafka.Topics.CatalogChange} {
		consumer := kafka.NewConsumer(cfg.Kafka, topic, dispatcher.Handler())
		go func(topic string) {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("consumer error", "topic", topic, "error", err)
			}
		}(topic)
		slog.Info("consumer started", "topic", topic)
	}

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := db.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("term_index", func(ctx context.Context) health.ComponentHealth {
		if examSvc.Ready() && questionSvc.Ready() {
			return health.ComponentHealth{Status: health.StatusUp}
		}
		return health.ComponentHealth{Status: health.StatusDown, Message: "index not built"}
	})

	h := handler.New(examSvc, questionSvc, prefStore, resultCache, collector, cfg.Recommender, m)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("recommender stopped")
}
