package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/jmoiron/sqlx"
	_ "github.com/joho/godotenv/autoload"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kova98/changealert.api/alerts"
	"github.com/kova98/changealert.api/config"
	"github.com/kova98/changealert.api/data"
	"github.com/kova98/changealert.api/data/repos"
	"github.com/kova98/changealert.api/handlers"
	"github.com/kova98/changealert.api/matchers"
	"github.com/kova98/changealert.api/metrics"
	"github.com/kova98/changealert.api/notifiers"
	"github.com/kova98/changealert.api/ratelimit"
	"github.com/kova98/changealert.api/scanner"
	"github.com/kova98/changealert.api/sources"
)

var (
	auth    *handlers.AuthHandler
	limiter *handlers.RateLimiter
)

//go:embed data/migrations/*.sql
var embedMigrations embed.FS

func main() {
	config.LoadConfig()

	logger := newLogger()
	slog.SetDefault(logger)

	db, err := sqlx.Connect("postgres", config.Config.PostgresURL)
	if err != nil {
		slog.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := data.RunMigrations(db.DB, embedMigrations); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	keywordRepo := repos.NewKeywordRepo(db)
	subscriberRepo := repos.NewSubscriberRepo(db)

	client, err := sources.NewHTTPClient(config.Config.ProxyURL)
	if err != nil {
		slog.Error("failed to create http client", "error", err)
		os.Exit(1)
	}
	registry := sources.NewChangeDetectionClient(logger, client, config.Config.ChangeDetectionURL,
		config.Config.RegistryTimeout, config.Config.SnapshotTimeout)

	scan := scanner.NewScanner(logger, keywordRepo, registry, config.Config.ScanConcurrency)
	if config.Config.LanguageDetection {
		scan.SetLanguageDetector(matchers.NewLanguageDetector())
	}

	mailer := notifiers.NewMailer(notifiers.MailerConfig{
		Host:     config.Config.SMTPHost,
		Port:     config.Config.SMTPPort,
		Username: config.Config.SMTPUsername,
		Password: config.Config.SMTPPassword,
		From:     config.Config.SMTPFrom,
		FromName: config.Config.SMTPFromName,
		TLS:      config.Config.SMTPTLS,
	})
	dispatcher := notifiers.NewDispatcher(logger, mailer, config.Config.AppBaseURL, config.Config.SendConcurrency)
	alertService := alerts.NewService(logger, scan, dispatcher, subscriberRepo, config.Config.ChangeDetectionAPIKey)

	var schedule *alerts.Schedule
	if config.Config.AlertSchedule != "" {
		schedule, err = alerts.NewSchedule(logger, alertService, config.Config.AlertSchedule, alerts.Params{
			OnlyRecent: config.Config.AlertOnlyRecent,
			Hours:      config.Config.AlertHours,
		})
		if err != nil {
			slog.Error("failed to create alert schedule", "error", err)
			os.Exit(1)
		}
		schedule.Start()
	}

	var keycloakClient *gocloak.GoCloak
	if config.Config.KeycloakEnabled() {
		keycloakClient = gocloak.NewClient(config.Config.KeycloakURL)
	}
	auth = handlers.NewAuthHandler(keycloakClient, config.Config.KeycloakRealm, config.Config.APIKey)
	limiter = handlers.NewRateLimiter(logger, newLimiter(), config.Config.TrustProxy)

	keywords := handlers.NewKeywordHandler(keywordRepo)
	subscribers := handlers.NewSubscriberHandler(subscriberRepo)
	alertHandler := handlers.NewAlertHandler(alertService, config.Config.AlertOnlyRecent, config.Config.AlertHours)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /alerts/matches", private(limiter.Wrap(alertHandler.GetMatches)))
	mux.HandleFunc("POST /alerts/notify", private(limiter.Wrap(alertHandler.Notify)))

	mux.HandleFunc("POST /keywords", private(keywords.CreateKeyword))
	mux.HandleFunc("GET /keywords", private(keywords.GetKeywords))
	mux.HandleFunc("GET /keywords/{id}", private(keywords.GetKeyword))
	mux.HandleFunc("PUT /keywords/{id}", private(keywords.UpdateKeyword))
	mux.HandleFunc("DELETE /keywords/{id}", private(keywords.DeleteKeyword))

	mux.HandleFunc("POST /subscribers", private(subscribers.CreateSubscriber))
	mux.HandleFunc("GET /subscribers", private(subscribers.GetSubscribers))
	mux.HandleFunc("DELETE /subscribers/{id}", private(subscribers.DeleteSubscriber))
	mux.HandleFunc("GET /unsubscribe", public(limiter.Wrap(subscribers.Unsubscribe)))

	mux.HandleFunc("GET /healthz", public(health(db)))
	mux.HandleFunc("GET /metrics", privateHTTP(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + config.Config.Port,
		Handler:           withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	go func() {
		slog.Info("Starting server", "port", config.Config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}
	if schedule != nil {
		schedule.Stop()
	}
	if err := db.Close(); err != nil {
		slog.Error("failed to close database connection", "error", err)
	}
}

// newLogger writes JSON in production and readable text elsewhere.
func newLogger() *slog.Logger {
	opts := slog.HandlerOptions{Level: config.Config.LogLevel}
	if config.Config.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, &opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &opts))
}

// newLimiter shares buckets through Redis when REDIS_URL is set.
func newLimiter() ratelimit.Limiter {
	if config.Config.RedisURL == "" {
		return ratelimit.NewMemory(config.Config.RateLimitRPS, config.Config.RateLimitBurst)
	}

	rdb, err := ratelimit.NewRedisClient(config.Config.RedisURL)
	if err != nil {
		slog.Error("redis unavailable, using in-memory rate limiter", "error", err)
		return ratelimit.NewMemory(config.Config.RateLimitRPS, config.Config.RateLimitBurst)
	}
	return ratelimit.NewRedis(rdb, config.Config.RateLimitRPS, config.Config.RateLimitBurst)
}

func health(db *sqlx.DB) handlers.Handler {
	return func(w http.ResponseWriter, r *http.Request) handlers.Result {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return handlers.Result{
				Error: err,
				Code:  http.StatusServiceUnavailable,
				Body:  handlers.ErrorResponse{Error: "database unavailable"},
			}
		}
		return handlers.Ok(map[string]string{"status": "ok"})
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func private(handler handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r, ok := authenticate(w, r); ok {
			public(handler)(w, r)
		}
	}
}

func privateHTTP(handler http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r, ok := authenticate(w, r); ok {
			handler.ServeHTTP(w, r)
		}
	}
}

// authenticate writes the rejection itself and returns false when the caller
// is not authorized. The returned request carries the principal.
func authenticate(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	keyHeader := r.Header.Get("x-api-key")
	authHeader := r.Header.Get("Authorization")
	result := auth.Authorize(r.Context(), keyHeader, authHeader)
	if result.Code != http.StatusOK {
		slog.Debug("unauthorized request", "path", r.URL.Path)
		writeResult(w, result)
		return nil, false
	}

	principal := result.Body.(handlers.Principal)
	return r.WithContext(handlers.WithPrincipal(r.Context(), principal)), true
}

func public(handler handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts := time.Now()
		res := handler(w, r)
		elapsedMs := time.Since(ts).Milliseconds()
		slog.Debug("req", "method", r.Method, "path", r.URL.Path, "code", res.Code, "elapsed", elapsedMs)
		writeResult(w, res)
	}
}

func writeResult(w http.ResponseWriter, res handlers.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Code)
	if res.Body != nil {
		if err := json.NewEncoder(w).Encode(res.Body); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
	if res.Code >= http.StatusInternalServerError && res.Error != nil {
		slog.Error("request failed", "code", res.Code, "error", res.Error.Error())
	}
}
