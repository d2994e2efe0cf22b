// Command server runs the dispatch-core HTTP and WebSocket surface: ride
// requests, matching, lifecycle transitions, and payment orchestration,
// backed by Postgres+Redis when configured or in-memory stores for local
// development.
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/turbodriver/dispatch-core/internal/api"
	"github.com/turbodriver/dispatch-core/internal/auth"
	"github.com/turbodriver/dispatch-core/internal/config"
	"github.com/turbodriver/dispatch-core/internal/coordination"
	"github.com/turbodriver/dispatch-core/internal/dispatch"
	"github.com/turbodriver/dispatch-core/internal/fare"
	"github.com/turbodriver/dispatch-core/internal/geo"
	"github.com/turbodriver/dispatch-core/internal/payment"
	"github.com/turbodriver/dispatch-core/internal/realtime"
	"github.com/turbodriver/dispatch-core/internal/storage"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rides, locations, identDB, idempDB, authMem, ledger := wireStores(ctx, cfg)
	claims, rejections, broadcasts := wireCoordination(ctx, cfg)

	gateway := payment.NewRazorpayGateway()
	breaker := payment.NewCircuitBreaker(cfg.GatewayFailureThresh, cfg.GatewayRecovery)
	orchestrator := payment.NewOrchestrator(gateway, breaker, ledger, cfg.PaymentMaxRetries, cfg.PaymentAttemptTimeout, cfg.DriverShare, cfg.PayoutDelay)

	fareCalc := fare.NewCalculator(cfg.BaseFare, cfg.PerKMRate, cfg.FareProtectionThreshold)
	serviceArea := geo.NewServiceArea(cfg)
	cancellation := dispatch.NewCancellationPolicy(cfg.CancellationGraceWindow, cfg.CancellationFee)

	registry := realtime.NewRegistry(authMem, cfg.SessionIdleTimeout)
	go registry.Run()

	matcher := dispatch.NewMatcher(locations, rides, claims, rejections, broadcasts, registry, dispatch.MatcherConfig{
		InitialRadiusKM:    cfg.InitialSearchRadiusKM,
		RadiusStepKM:       cfg.SearchRadiusStepKM,
		MaxRadiusKM:        cfg.MaxSearchRadiusKM,
		RoundTimeout:       cfg.RoundTimeout,
		MatchTimeout:       cfg.MatchTimeout,
		ClaimTTL:           cfg.ClaimTTL,
		CandidatesPerRound: 5,
	})

	lifecycle := &dispatch.Lifecycle{
		Rides:        rides,
		Locations:    locations,
		Matcher:      matcher,
		Notify:       registry,
		Fare:         fareCalc,
		Payments:     orchestrator,
		Cancellation: cancellation,
		ServiceArea:  serviceArea,
		Clock:        dispatch.RealClock{},
	}

	rtDispatcher := &realtime.Dispatcher{
		Rides:             rides,
		Locations:         locations,
		Lifecycle:         lifecycle,
		Claims:            claims,
		Notify:            registry,
		PickupProximityM:  cfg.PickupProximityM,
		ProximityNotifyM:  cfg.ProximityNotifyM,
		ClaimTTL:          cfg.ClaimTTL,
	}

	go sweepPayouts(orchestrator)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	api.AttachRoutes(r, lifecycle, rides, registry, rtDispatcher.Handle, authMem, identDB, idempDB, cfg.AuthTokenTTL)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("dispatch-core listening on %s (env=%s)", cfg.HTTPAddr, cfg.Environment)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// wireStores picks Postgres-backed or in-memory implementations of the ride
// store, location index and payment ledger depending on whether
// DATABASE_URL/REDIS_URL are reachable. Falling back to in-memory is fatal
// only in prod.
func wireStores(ctx context.Context, cfg config.Config) (dispatch.RideStore, dispatch.LocationIndex, api.IdentityDB, api.IdempotencyDB, *auth.InMemoryStore, payment.Ledger) {
	var (
		rides     dispatch.RideStore = dispatch.NewMemoryStore()
		locations dispatch.LocationIndex = geo.NewInMemoryIndex(cfg.StaleLocationTTL)
		identDB   api.IdentityDB
		idempDB   api.IdempotencyDB
		ledger    payment.Ledger = payment.NewMemoryLedger()
	)

	authMem := auth.NewInMemoryStore()

	if cfg.DatabaseURL != "" {
		pool, err := storage.DefaultPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("database connection failed, falling back to in-memory: %v", err)
			failIfProd(cfg, "DATABASE_URL required in prod")
		} else if err := storage.ApplySchema(ctx, pool); err != nil {
			log.Printf("schema migration failed, falling back to in-memory: %v", err)
			failIfProd(cfg, "schema migration required in prod")
		} else {
			log.Printf("using PostgreSQL persistence")
			pg := storage.NewPostgres(pool)
			rides = pg
			ledger = pg

			ids := storage.NewIdentityStore(pool)
			if err := ids.EnsureSchema(ctx); err != nil {
				log.Printf("identity schema init failed: %v", err)
			} else {
				identDB = ids
				seedIdentities(ctx, ids, authMem)
			}

			idemp := storage.NewIdempotencyStore(pool, cfg.IdempotencyTTL)
			if err := idemp.EnsureSchema(ctx); err != nil {
				log.Printf("idempotency schema init failed: %v", err)
			} else {
				idempDB = idemp
			}
		}
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Printf("redis URL parse error, geo fallback to in-memory: %v", err)
			failIfProd(cfg, "REDIS_URL parse failed in prod")
		} else {
			client := redis.NewClient(opt)
			if err := client.Ping(ctx).Err(); err != nil {
				log.Printf("redis unreachable, geo fallback to in-memory: %v", err)
				failIfProd(cfg, "redis reachable required in prod")
			} else {
				log.Printf("using Redis geo index")
				locations = geo.NewIndex(client, cfg.StaleLocationTTL)
			}
		}
	}

	return rides, locations, identDB, idempDB, authMem, ledger
}

// wireCoordination picks Redis-backed or in-memory claim/rejection/broadcast
// stores. It dials Redis a second time independently of wireStores so
// either half of the stack can fail over on its own.
func wireCoordination(ctx context.Context, cfg config.Config) (dispatch.ClaimStore, dispatch.RejectionMemory, dispatch.BroadcastStore) {
	var (
		claims     dispatch.ClaimStore      = coordination.NewInMemoryClaimStore()
		rejections dispatch.RejectionMemory = coordination.NewInMemoryRejectionMemory()
		broadcasts dispatch.BroadcastStore  = coordination.NewInMemoryBroadcastStore()
	)
	if cfg.RedisURL == "" {
		return claims, rejections, broadcasts
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return claims, rejections, broadcasts
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("redis unreachable, claim coordination fallback to in-memory: %v", err)
		return claims, rejections, broadcasts
	}
	log.Printf("using Redis claim coordination")
	return coordination.NewRedisClaimStore(client), coordination.NewRedisRejectionMemory(client, cfg.MatchTimeout), coordination.NewRedisBroadcastStore(client)
}

func failIfProd(cfg config.Config, msg string) {
	if cfg.Environment == "prod" {
		log.Fatal(msg)
	}
}

func seedIdentities(ctx context.Context, db *storage.IdentityStore, mem *auth.InMemoryStore) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	all, err := db.All(ctx)
	if err != nil {
		log.Printf("failed to preload identities: %v", err)
		return
	}
	for _, ident := range all {
		mem.Seed(ident)
	}
}

func sweepPayouts(o *payment.Orchestrator) {
	ticker := time.NewTicker(time.Minute)
	for range ticker.C {
		n, err := o.SweepDuePayouts(context.Background())
		if err != nil {
			log.Printf("payout sweep error: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("processed %d due payouts", n)
		}
	}
}
