package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"campusgate.org/internal/accounts"
	"campusgate.org/internal/csrf"
	"campusgate.org/internal/httpapi"
	"campusgate.org/internal/obs"
	"campusgate.org/internal/password"
	"campusgate.org/internal/ratelimit"
	"campusgate.org/internal/seclog"
	"campusgate.org/internal/token"
)

var version = "0.3.1"

func main() {
	obs.Init()
	log := obs.Logger()

	accessSecret := os.Getenv("CAMPUSGATE_ACCESS_SECRET")
	refreshSecret := os.Getenv("CAMPUSGATE_REFRESH_SECRET")
	if accessSecret == "" || refreshSecret == "" {
		log.Fatal().Msg("CAMPUSGATE_ACCESS_SECRET and CAMPUSGATE_REFRESH_SECRET are required")
	}
	addr := os.Getenv("CAMPUSGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// With a DSN the identity and audit stores live in Postgres; without
	// one the process runs standalone on in-memory stores, for local
	// development only.
	var (
		db         *sql.DB
		store      accounts.Store
		eventStore seclog.EventStore
		messenger  httpapi.Messenger
	)
	if dsn := os.Getenv("CAMPUSGATE_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("open db")
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = accounts.NewPGStore(db)
		eventStore = seclog.NewPGEventStore(db)
	} else {
		log.Warn().Msg("CAMPUSGATE_PG_DSN not set, using in-memory stores")
		store = accounts.NewMemoryStore()
		eventStore = seclog.NewMemoryEventStore()
		messenger = devMessenger{}
	}

	tokens, err := token.NewService(store, accessSecret, refreshSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("token service")
	}
	securityLog := seclog.NewLogger(eventStore)

	api := httpapi.New(httpapi.Config{
		Store:        store,
		Tokens:       tokens,
		Passwords:    password.NewService(),
		CSRF:         csrf.New(csrf.NewMemoryStore()),
		Limiter:      ratelimit.New(ratelimit.NewMemoryCounterStore()),
		Seclog:       securityLog,
		Monitor:      seclog.NewMonitor(eventStore),
		Messenger:    messenger,
		ReadyProbe:   httpapi.ReadyProbe{DB: db},
		Version:      version,
		CookieSecure: os.Getenv("CAMPUSGATE_INSECURE_COOKIES") != "1",
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("version", version).Str("addr", srv.Addr).Msg("starting campusgate-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Info().Msg("stopped")
}

// devMessenger prints reset tokens to the process log. Only wired in the
// in-memory development mode; production deployments supply a real sender.
type devMessenger struct{}

func (devMessenger) SendPasswordReset(_ context.Context, email, tokenID, tok string) error {
	obs.Logger().Warn().
		Str("email", email).
		Str("token_id", tokenID).
		Str("token", tok).
		Msg("password reset token (dev delivery)")
	return nil
}
