package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/config"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// .env é opcional; variáveis já exportadas têm precedência.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.logLevel, cfg.logFormat)
	slog.SetDefault(logger)

	rules := config.DefaultRules()
	if cfg.rulesFile != "" {
		rules, err = config.LoadRules(cfg.rulesFile)
		if err != nil {
			log.Fatalf("rules error: %v", err)
		}
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.ErrorContext(r.Context(), "proxy error", "error", err, "request_id", r.Header.Get(requestIDHeader))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redis.Client
	if cfg.counterStore == "redis" || cfg.rateStatsEnabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
			// sem isso o go-redis ignora o deadline do contexto em leitura/escrita
			ContextTimeoutEnabled: true,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			// fail-open: o gateway sobe mesmo sem redis e as decisões viram error_fallback_allow.
			logger.Warn("redis ping failed, rate limiting will fail open", "addr", cfg.redisAddr, "error", err)
		}
	}

	var store domain.CounterStore
	switch cfg.counterStore {
	case "redis":
		store = infra.NewRedisCounterStore(rdb,
			infra.WithKeyPrefix(cfg.redisKeyPrefix),
			infra.WithCallTimeout(cfg.redisCallTimeout),
		)
	default:
		mem := infra.NewMemoryCounterStore()
		mem.StartJanitor(ctx)
		store = mem
	}

	local := infra.NewMemoryStatsStore(infra.WithTotalRules(len(rules)))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sinks := infra.MultiStatsStore{local, infra.NewPrometheusStatsStore(reg)}
	if cfg.rateStatsEnabled {
		sinks = append(sinks, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
			infra.WithStatsTimeout(cfg.redisCallTimeout),
		))
	}

	var svc *application.Service
	if cfg.rateEnabled {
		svc = application.NewService(application.Config{
			Rules:   application.NewRuleTable(rules),
			Store:   store,
			Monitor: local,
			Mode:    cfg.countingMode,
			Logger:  logger,
		})
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", ratelimit.HealthHandler(store, local))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(ratelimit.Options{
			Service:       svc,
			Stats:         sinks,
			Resolver:      ratelimit.Resolver{TrustXForwardedFor: cfg.trustXFF},
			Logger:        logger,
			RejectStatus:  http.StatusTooManyRequests,
			SlowThreshold: cfg.slowThreshold,
			Slow:          local,
		}))
		r.Handle("/*", proxy)
	})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
	logger.Info("rate limit",
		"enabled", cfg.rateEnabled,
		"rules", len(rules),
		"rules_file", cfg.rulesFile,
		"counter_store", cfg.counterStore,
		"counting_mode", cfg.countingMode,
		"trust_xff", cfg.trustXFF)
	logger.Info("rate stats", "enabled", cfg.rateStatsEnabled, "bucket", cfg.rateStatsBucket, "ttl", cfg.rateStatsTTL, "track_keys", cfg.rateStatsTrackKeys)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

type config struct {
	listenAddr    string
	upstreamURL   string
	logLevel      string
	logFormat     string
	rateEnabled   bool
	rulesFile     string
	countingMode  application.Mode
	trustXFF      bool
	slowThreshold time.Duration

	counterStore     string
	redisAddr        string
	redisPassword    string
	redisDB          int
	redisKeyPrefix   string
	redisCallTimeout time.Duration

	rateStatsEnabled   bool
	rateStatsPrefix    string
	rateStatsTTL       time.Duration
	rateStatsBucket    string
	rateStatsTrackKeys bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.logFormat = getenvDefault("LOG_FORMAT", "json")
	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rulesFile = os.Getenv("RATE_RULES_FILE")
	// atrás de um load balancer o IP real vem no X-Forwarded-For.
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", true)
	cfg.slowThreshold = getenvDurationDefault("SLOW_RESPONSE_THRESHOLD", 5*time.Second)

	mode, err := application.ParseMode(getenvDefault("RATE_COUNTING_MODE", string(application.ModeReserve)))
	if err != nil {
		return config{}, err
	}
	cfg.countingMode = mode

	cfg.counterStore = strings.ToLower(getenvDefault("COUNTER_STORE", "redis"))
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisKeyPrefix = getenvDefault("REDIS_KEY_PREFIX", "admission")
	cfg.redisCallTimeout = getenvDurationDefault("REDIS_CALL_TIMEOUT", 50*time.Millisecond)

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "admission:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.counterStore != "redis" && cfg.counterStore != "memory" {
		return config{}, errors.New("COUNTER_STORE must be redis or memory")
	}
	if (cfg.counterStore == "redis" || cfg.rateStatsEnabled) && strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required when redis is used")
	}
	if cfg.redisCallTimeout <= 0 {
		return config{}, errors.New("REDIS_CALL_TIMEOUT must be > 0")
	}
	return cfg, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
