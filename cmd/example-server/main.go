package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/config"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store := infra.NewMemoryCounterStore()
	store.StartJanitor(ctx)

	rules := append(config.DefaultRules(),
		config.NewRule("email", 2, []string{"/api/v1/email/"}, nil),
	)
	stats := infra.NewMemoryStatsStore(infra.WithTotalRules(len(rules)))

	svc := application.NewService(application.Config{
		Rules:   application.NewRuleTable(rules),
		Store:   store,
		Monitor: stats,
		Logger:  logger,
	})

	// o mesmo resolver para as regras e para o limite avulso: o identificador tem que bater
	resolver := ratelimit.Resolver{TrustXForwardedFor: true}

	r := chi.NewRouter()
	r.Use(fakeAuth)
	r.Get("/healthz", ratelimit.HealthHandler(store, stats))
	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(ratelimit.Options{
			Service:  svc,
			Stats:    stats,
			Resolver: resolver,
			Logger:   logger,
			Slow:     stats,
		}))
		r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
		r.Post("/invite", inviteHandler(svc, resolver))
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr, "rules", len(rules))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// inviteHandler é um limite avulso fora da tabela: 3 convites por minuto por identificador.
func inviteHandler(svc *application.Service, resolver ratelimit.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := resolver.Identifier(r, ratelimit.IdentityFrom(r.Context()))
		if !svc.CheckOnce(r.Context(), id, "invite", 3) {
			http.Error(w, "too many invites", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// fakeAuth simula o middleware de autenticação: confia em X-User-ID e
// X-User-Roles (separados por vírgula). Não use isso em produção.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if uid == "" {
			next.ServeHTTP(w, r)
			return
		}
		var roles []string
		for _, role := range strings.Split(r.Header.Get("X-User-Roles"), ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		id := &domain.Identity{UserID: uid, Roles: roles}
		next.ServeHTTP(w, r.WithContext(ratelimit.WithIdentity(r.Context(), id)))
	})
}
