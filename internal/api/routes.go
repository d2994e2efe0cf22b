package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/turbodriver/dispatch-core/internal/auth"
	"github.com/turbodriver/dispatch-core/internal/dispatch"
	"github.com/turbodriver/dispatch-core/internal/realtime"
)

// AttachRoutes wires the HTTP surface onto r: identity issuance, the
// submit_ride/cancel/history ride operations, the driver
// location fallback, and the WebSocket upgrade that hands off to the
// realtime session layer. The matching, lifecycle and payment core itself
// is reached only through lifecycle and rides; this package adds no domain
// logic of its own.
func AttachRoutes(r chi.Router, lifecycle *dispatch.Lifecycle, rides dispatch.RideStore, registry *realtime.Registry, rtHandle func(string, realtime.InboundMessage), authStore *auth.InMemoryStore, identDB IdentityDB, idempDB IdempotencyDB, authTTL time.Duration) *Handler {
	handler := NewHandler(lifecycle, rides, registry, rtHandle, authStore, identDB, idempDB, authTTL)
	authCfg := newAuthConfig(authStore, identDB, authTTL)

	r.Use(handler.metricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(JSONLogger)

	r.Get("/health", handler.Health)
	r.Get("/metrics", handler.Metrics)

	r.With(httprate.LimitByIP(20, time.Minute)).Post("/api/auth/register", handler.RegisterIdentity)

	r.Group(func(pr chi.Router) {
		pr.Use(authCfg.middleware)

		pr.With(httprate.LimitByIP(60, time.Minute)).Post("/api/rides", handler.RequestRide)
		pr.Get("/api/rides/{rideID}", handler.GetRide)
		pr.Post("/api/rides/{rideID}/cancel", handler.CancelRide)
		pr.Post("/api/rides/{rideID}/complete", handler.CompleteRide)
		pr.Get("/api/history/rider", handler.ListRiderRides)
		pr.Get("/api/history/driver", handler.ListDriverRides)

		pr.Post("/api/drivers/{driverID}/location", handler.UpdateDriverLocation)
		pr.Post("/api/drivers/{driverID}/availability", handler.SetDriverAvailability)

		pr.Get("/api/admin/rides/{rideID}/events", handler.ListRideEvents)
	})

	r.Get("/ws", handler.RideWebsocket)

	return handler
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func parseNonNegativeInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func metricLineNoLabel(name string, value float64) string {
	return fmt.Sprintf("%s %g\n", name, value)
}

func metricLine(name string, le, value float64) string {
	return fmt.Sprintf("%s{le=\"%g\"} %g\n", name, le, value)
}
