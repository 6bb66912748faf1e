// jobmate-escrow-service
//
// Job-marketplace escrow engine. Clients deposit funds to post a job,
// freelancers apply, the client approves a winner whose earnings become
// withdrawable minus the platform fee, and a locked certificate records
// every job that was not refunded.
//
// Exposes:
//   - gRPC EscrowService (all operations, JSON content-subtype) + grpc health
//   - REST read-only query API and /health
//
// Publishes EVENT_* messages to Redis for the Gateway SSE forwarder and
// journals them to PostgreSQL. Jobs, freelancers, fees and certificates are
// stored in PostgreSQL next to the fund balances and reloaded on startup.
// A cron sweep reports expired jobs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"jobmate/escrow-service/internal/auth"
	"jobmate/escrow-service/internal/config"
	"jobmate/escrow-service/internal/db"
	"jobmate/escrow-service/internal/escrow"
	"jobmate/escrow-service/internal/events"
	"jobmate/escrow-service/internal/funds"
	"jobmate/escrow-service/internal/grpcserver"
	"jobmate/escrow-service/internal/scheduler"
	"jobmate/escrow-service/internal/storage"
	"jobmate/escrow-service/internal/token"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[escrow-service] Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Println("[escrow-service] Connecting to PostgreSQL…")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		log.Fatalf("[escrow-service] PostgreSQL: %v", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("[escrow-service] Schema: %v", err)
	}
	log.Println("[escrow-service] PostgreSQL connected ✓")

	// ── Redis ────────────────────────────────────────────────────────────────
	log.Println("[escrow-service] Connecting to Redis…")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[escrow-service] Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("[escrow-service] Redis connected ✓")

	// ── Engine ───────────────────────────────────────────────────────────────
	variant, err := escrow.ParseVariant(cfg.Variant)
	if err != nil {
		log.Fatalf("[escrow-service] %v", err)
	}
	platform := escrow.DefaultPlatformConfig()
	platform.ApprovalAuthority = escrow.Identity(cfg.ApprovalAuthority)
	if cfg.MinDeposit > 0 {
		platform.MinDeposit = cfg.MinDeposit
	}

	journal := events.NewJournal(pool)
	sink := events.Fanout{events.NewRedisPublisher(rdb), journal}
	custody := escrow.Identity(cfg.CustodyAccount)
	registry := token.NewRegistry()

	engine, err := escrow.NewEngine(
		custody,
		funds.NewPostgresLedger(pool, custody),
		registry,
		escrow.StaticAuthority{OwnerID: escrow.Identity(cfg.PlatformOwner)},
		escrow.Options{Variant: variant, Config: &platform, Sink: sink, Store: storage.NewPostgresStore(pool)},
	)
	if err != nil {
		log.Fatalf("[escrow-service] Engine: %v", err)
	}
	if certs := engine.Certificates(); certs != nil {
		registry.UseLockPolicy(certs)
	}
	if err := engine.Restore(ctx); err != nil {
		log.Fatalf("[escrow-service] Restore: %v", err)
	}
	log.Printf("[escrow-service] Engine ready — variant: %s, next job id: %d", variant.Name, engine.JobCounter())

	// ── Expiry sweep ─────────────────────────────────────────────────────────
	sched := scheduler.New(engine, sink, nil, cfg.SweepIntervalMin)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[escrow-service] Scheduler: %v", err)
	}
	defer sched.Stop()

	// ── gRPC server ──────────────────────────────────────────────────────────
	limiter := grpcserver.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcserver.CallerInterceptor(auth.NewVerifier(cfg.JWTSecret)),
		limiter.Interceptor(),
	))
	grpcserver.RegisterEscrowServiceServer(grpcSrv, grpcserver.NewServer(engine))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatalf("[escrow-service] gRPC listen: %v", err)
	}
	go func() {
		log.Printf("[escrow-service] gRPC listening on :%s", cfg.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("[escrow-service] gRPC server error: %v", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Prune(3 * time.Minute)
			}
		}
	}()

	// ── HTTP server ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)

	h := escrow.NewHandler(engine, journal)
	h.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[escrow-service] v%s listening on :%s", version, cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[escrow-service] HTTP server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[escrow-service] Shutting down…")
	healthSrv.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[escrow-service] Shutdown error: %v", err)
	}
	grpcSrv.GracefulStop()
	log.Println("[escrow-service] Stopped.")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "escrow-service",
		"version": version,
	})
}
