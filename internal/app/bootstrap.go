package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"chicknneeds-api/internal/auth"
	"chicknneeds-api/internal/cart"
	"chicknneeds-api/internal/db"
	"chicknneeds-api/internal/email"
	"chicknneeds-api/internal/maintenance"
	"chicknneeds-api/internal/observability"
	"chicknneeds-api/internal/order"
	"chicknneeds-api/internal/product"
	"chicknneeds-api/internal/profile"
	"chicknneeds-api/internal/review"
	"chicknneeds-api/internal/security"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *observability.Logger
	Close   func() error
}

// Build wires the full API from environment configuration.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	environment := envOrDefault("APP_ENV", "development")
	production := environment == "production"

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), environment); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	accessDenylist, refreshDenylist, redisClient, err := buildDenylists(logger)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	sweepCtx, stopSweepers := context.WithCancel(context.Background())
	sweepInterval := envMinutesOrDefault("DENYLIST_SWEEP_MINUTES", 5)
	if memory, ok := accessDenylist.(*auth.MemoryDenylist); ok {
		memory.StartSweeper(sweepCtx, sweepInterval)
	}
	if memory, ok := refreshDenylist.(*auth.MemoryDenylist); ok {
		memory.StartSweeper(sweepCtx, sweepInterval)
	}

	mailer := email.NewMailer(email.Config{
		From:        os.Getenv("EMAIL_FROM"),
		AppBaseURL:  envOrDefault("PUBLIC_APP_URL", "http://localhost:5173"),
		APIBaseURL:  envOrDefault("PUBLIC_API_URL", "http://localhost:8080"),
		BrevoAPIKey: os.Getenv("BREVO_API_KEY"),
	}, logger)

	issuer := auth.NewTokenIssuer(
		jwtSecret,
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
		production,
	)

	authRepo := auth.NewRepository(database)
	authService := auth.NewService(authRepo, mailer, issuer, accessDenylist, refreshDenylist, logger, auth.ServiceConfig{
		MaxAttempts:  envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LockDuration: envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
	})
	authHandler := auth.NewHandler(authService, envOrDefault("PUBLIC_APP_URL", "http://localhost:5173"))

	productHandler := product.NewHandler(product.NewRepository(database))
	profileHandler := profile.NewHandler(profile.NewRepository(database))
	cartHandler := cart.NewHandler(cart.NewRepository(database))
	orderHandler := order.NewHandler(order.NewRepository(database))
	reviewHandler := review.NewHandler(review.NewRepository(database))

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envHoursOrDefault("AUTH_CHALLENGE_RETENTION_HOURS", 24),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	mux := http.NewServeMux()
	authHandler.Register(mux)

	guard := func(next http.HandlerFunc) http.Handler {
		return auth.Middleware(issuer, accessDenylist, next)
	}

	mux.HandleFunc("GET /health", healthHandler(database))
	mux.HandleFunc("GET /api/products", productHandler.ListProducts)
	mux.HandleFunc("GET /api/products/{id}", productHandler.GetProduct)
	mux.HandleFunc("GET /api/products/{id}/reviews", reviewHandler.ListForProduct)
	mux.HandleFunc("GET /api/categories", productHandler.ListCategories)
	mux.Handle("POST /api/products/{id}/reviews", guard(reviewHandler.Create))
	mux.Handle("GET /api/profile", guard(profileHandler.Get))
	mux.Handle("PATCH /api/profile", guard(profileHandler.Update))
	mux.Handle("GET /api/cart", guard(cartHandler.List))
	mux.Handle("POST /api/cart", guard(cartHandler.Add))
	mux.Handle("PATCH /api/cart/{id}", guard(cartHandler.Update))
	mux.Handle("DELETE /api/cart/{id}", guard(cartHandler.Delete))
	mux.Handle("POST /api/orders", guard(orderHandler.Checkout))
	mux.Handle("GET /api/orders", guard(orderHandler.List))
	mux.Handle("GET /api/orders/{id}", guard(orderHandler.Get))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)

	throttle := security.NewThrottle(envIntOrDefault("GENERAL_RATE_LIMIT_PER_MINUTE", 250))

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			security.HeadersMiddleware(production,
				throttle.Middleware(mux))))

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Close: func() error {
			stopSweepers()
			observability.FlushSentry()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return database.Close()
		},
	}, nil
}

// buildDenylists picks the revocation store: Redis when REDIS_URL is
// set, otherwise the process-local maps.
func buildDenylists(logger *observability.Logger) (auth.Denylist, auth.Denylist, redis.UniversalClient, error) {
	redisURL := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if redisURL == "" {
		return auth.NewMemoryDenylist(), auth.NewMemoryDenylist(), nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	logger.Info("denylist_backend", map[string]any{"backend": "redis"})
	return auth.NewRedisDenylist(client, "deny:access"), auth.NewRedisDenylist(client, "deny:refresh"), client, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
