// Package api is the HTTP request surface: CRUD-shaped endpoints around the
// dispatch core's submit_ride/cancel/history operations, token issuance, and
// the WebSocket upgrade that hands off to the realtime session layer. It
// stays thin, translating dispatch.Error kinds to HTTP status codes and
// otherwise delegating every decision to internal/dispatch.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/turbodriver/dispatch-core/internal/auth"
	"github.com/turbodriver/dispatch-core/internal/coordination"
	"github.com/turbodriver/dispatch-core/internal/dispatch"
	"github.com/turbodriver/dispatch-core/internal/realtime"
)

// Handler holds every dependency the HTTP surface needs. It is constructed
// once at startup by AttachRoutes and is safe for concurrent use across
// goroutines.
type Handler struct {
	lifecycle *dispatch.Lifecycle
	rides     dispatch.RideStore
	registry  *realtime.Registry
	rtHandle  func(userID string, msg realtime.InboundMessage)
	authStore *auth.InMemoryStore
	identDB   IdentityDB
	auth      authConfig
	authTTL   time.Duration
	idemp     *coordination.IdempotencyCache
	idempDB   IdempotencyDB

	startTime time.Time
	requests  int64
	latency   bucketCounter
}

// NewHandler wires a Handler from its dependencies. idempDB may be nil, in
// which case ride-submission idempotency is backed only by the in-process
// cache and does not survive a restart.
func NewHandler(lifecycle *dispatch.Lifecycle, rides dispatch.RideStore, registry *realtime.Registry, rtHandle func(string, realtime.InboundMessage), authStore *auth.InMemoryStore, identDB IdentityDB, idempDB IdempotencyDB, authTTL time.Duration) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		rides:     rides,
		registry:  registry,
		rtHandle:  rtHandle,
		authStore: authStore,
		identDB:   identDB,
		auth:      newAuthConfig(authStore, identDB, authTTL),
		authTTL:   authTTL,
		idemp:     coordination.NewIdempotencyCache(10 * time.Minute),
		idempDB:   idempDB,
		startTime: time.Now(),
		latency: newBucketCounter(map[float64]int64{
			0.01: 0, 0.05: 0, 0.1: 0, 0.5: 0, 1: 0, 5: 0,
		}),
	}
}

// metricsMiddleware counts every request and buckets its latency for the
// /metrics endpoint.
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		atomic.AddInt64(&h.requests, 1)
		h.latency.observe(time.Since(start))
	})
}

// registerRequest is the body of POST /api/auth/register.
type registerRequest struct {
	Role dispatch.IdentityRole `json:"role"`
}

// RegisterIdentity issues a bearer token for a new rider/driver/admin
// identity. A real deployment delegates this to an external identity
// provider; this endpoint exists so the CLI tools and local development
// have something to call without standing up a separate auth service.
func (h *Handler) RegisterIdentity(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identity, err := h.authStore.Register(req.Role, h.authTTL)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.identDB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		_, _ = h.identDB.Save(ctx, identity, h.authTTL)
	}
	respondJSON(w, http.StatusCreated, identity)
}

// requestRideBody is the body of POST /api/rides.
type requestRideBody struct {
	Pickup      dispatch.Coordinate `json:"pickup"`
	Destination dispatch.Coordinate `json:"destination"`
}

// RequestRide implements submit_ride: persists the ride in REQUESTED and
// launches the matcher asynchronously, returning immediately. A client that
// retries the same request after a timeout can set the Idempotency-Key
// header; a second call with the same key and rider returns the original
// ride instead of creating a duplicate.
func (h *Handler) RequestRide(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, dispatch.RoleRider)
	if !ok {
		return
	}
	raw := r.Header.Get("Idempotency-Key")
	idemKey := identity.ID + ":" + raw
	if raw != "" {
		if rideID, hit := h.lookupIdempotent(r.Context(), idemKey); hit {
			ride, err := h.rides.GetRide(r.Context(), rideID)
			if err == nil {
				respondJSON(w, http.StatusOK, ride)
				return
			}
		}
	}

	var body requestRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ride, err := h.lifecycle.RequestRide(r.Context(), identity.ID, body.Pickup, body.Destination)
	if err != nil {
		respondDispatchError(w, err)
		return
	}
	if raw != "" {
		h.rememberIdempotent(r.Context(), idemKey, ride.ID)
	}
	respondJSON(w, http.StatusCreated, ride)
}

// lookupIdempotent checks the persistent store first (if configured), then
// the in-process cache, so a retried request still dedupes across restarts
// when Postgres is wired in but falls back gracefully otherwise.
func (h *Handler) lookupIdempotent(ctx context.Context, key string) (string, bool) {
	if h.idempDB != nil {
		if rideID, hit, err := h.idempDB.Lookup(ctx, key); err == nil && hit {
			return rideID, true
		}
	}
	return h.idemp.Lookup(key)
}

func (h *Handler) rememberIdempotent(ctx context.Context, key, rideID string) {
	h.idemp.Remember(key, rideID)
	if h.idempDB != nil {
		_ = h.idempDB.Remember(ctx, key, rideID)
	}
}

// GetRide returns a single ride, visible to its rider, assigned driver, or
// an admin.
func (h *Handler) GetRide(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ride, err := h.rides.GetRide(r.Context(), chi.URLParam(r, "rideID"))
	if err != nil {
		respondDispatchError(w, err)
		return
	}
	if !canAccessRide(identity, ride) {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	respondJSON(w, http.StatusOK, ride)
}

func canAccessRide(identity dispatch.Identity, ride dispatch.Ride) bool {
	switch identity.Role {
	case dispatch.RoleAdmin:
		return true
	case dispatch.RoleRider:
		return identity.ID == ride.RiderID
	case dispatch.RoleDriver:
		return identity.ID == ride.DriverID
	default:
		return false
	}
}

// ListRiderRides lists the authenticated rider's ride history.
func (h *Handler) ListRiderRides(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, dispatch.RoleRider, dispatch.RoleAdmin)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	rides, err := h.rides.ListRidesByRider(r.Context(), identity.ID, limit, offset)
	if err != nil {
		respondDispatchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rides)
}

// ListDriverRides lists the authenticated driver's ride history.
func (h *Handler) ListDriverRides(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, dispatch.RoleDriver, dispatch.RoleAdmin)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	rides, err := h.rides.ListRidesByDriver(r.Context(), identity.ID, limit, offset)
	if err != nil {
		respondDispatchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rides)
}

// cancelRideBody is the body of POST /api/rides/{rideID}/cancel.
type cancelRideBody struct {
	Reason string `json:"reason"`
}

// CancelRide cancels a ride on behalf of the caller, applying the
// cancellation fee policy.
func (h *Handler) CancelRide(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, dispatch.RoleRider, dispatch.RoleDriver, dispatch.RoleAdmin)
	if !ok {
		return
	}
	var body cancelRideBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	ride, err := h.lifecycle.Cancel(r.Context(), chi.URLParam(r, "rideID"), identity.ID, identity.Role, body.Reason)
	if err != nil {
		respondDispatchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ride)
}

// completeRideBody is the body of POST /api/rides/{rideID}/complete.
type completeRideBody struct {
	FinalDistanceKM float64 `json:"finalDistanceKm"`
}

// CompleteRide is the driver-initiated trigger for complete(): it moves
// IN_PROGRESS to COMPLETED, finalizes the fare, and kicks off payment.
func (h *Handler) CompleteRide(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, dispatch.RoleDriver)
	if !ok {
		return
	}
	var body completeRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ride, err := h.lifecycle.CompleteTrip(r.Context(), chi.URLParam(r, "rideID"), identity.ID, body.FinalDistanceKM)
	if err != nil {
		respondDispatchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ride)
}

// ListRideEvents returns a ride's append-only audit log, for the admin
// event feed.
func (h *Handler) ListRideEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, dispatch.RoleAdmin); !ok {
		return
	}
	events, err := h.rides.ListEvents(r.Context(), chi.URLParam(r, "rideID"))
	if err != nil {
		respondDispatchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// locationBody is the body of POST /api/drivers/{driverID}/location, the
// HTTP fallback for drivers not holding a live WebSocket channel (also used
// by the heartbeat CLI).
type locationBody struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Sequence  int64   `json:"sequence,omitempty"`
}

// UpdateDriverLocation records a driver position sample directly against
// the Location Index, bypassing the realtime registry.
func (h *Handler) UpdateDriverLocation(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, dispatch.RoleDriver, dispatch.RoleAdmin)
	if !ok {
		return
	}
	driverID := chi.URLParam(r, "driverID")
	if identity.Role == dispatch.RoleDriver && identity.ID != driverID {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	var body locationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sample := dispatch.LocationSample{
		DriverID: driverID,
		Point:    dispatch.Coordinate{Latitude: body.Latitude, Longitude: body.Longitude},
		Accuracy: body.Accuracy,
		Sequence: body.Sequence,
		At:       time.Now(),
	}
	if err := h.lifecycle.Locations.Upsert(r.Context(), sample); err != nil {
		respondDispatchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// availabilityBody is the body of POST /api/drivers/{driverID}/availability.
type availabilityBody struct {
	Status             dispatch.DriverAvailability `json:"status"`
	AcceptExtendedArea bool                        `json:"acceptExtendedArea"`
	AcceptsParcel      bool                        `json:"acceptsParcel"`
}

// SetDriverAvailability registers or updates a driver's availability
// record, the precondition for becoming an eligible dispatch candidate.
func (h *Handler) SetDriverAvailability(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireRole(w, r, dispatch.RoleDriver, dispatch.RoleAdmin)
	if !ok {
		return
	}
	driverID := chi.URLParam(r, "driverID")
	if identity.Role == dispatch.RoleDriver && identity.ID != driverID {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	var body availabilityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	driver, err := h.rides.GetDriver(r.Context(), driverID)
	if err != nil && dispatch.KindOf(err) != dispatch.KindNotFound {
		respondDispatchError(w, err)
		return
	}
	driver.ID = driverID
	driver.Status = body.Status
	driver.AcceptExtendedArea = body.AcceptExtendedArea
	driver.AcceptsParcel = body.AcceptsParcel
	driver.UpdatedAt = time.Now()
	if err := h.rides.UpsertDriver(r.Context(), driver); err != nil {
		respondDispatchError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, driver)
}

// RideWebsocket upgrades the connection to the realtime session layer,
// keyed by the caller's identity rather than by ride.
func (h *Handler) RideWebsocket(w http.ResponseWriter, r *http.Request) {
	token := parseToken(r)
	if err := h.registry.Connect(w, r, token, h.rtHandle); err != nil {
		return
	}
}

// Health reports process liveness only; it does not check storage
// connectivity, and the router exposes no separate readiness endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Metrics emits a small Prometheus-text-format snapshot: request count,
// latency histogram, uptime and live WebSocket connections.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	uptime := time.Since(h.startTime).Seconds()
	_, _ = w.Write([]byte("# HELP turbodriver_uptime_seconds Process uptime in seconds.\n"))
	_, _ = w.Write([]byte("# TYPE turbodriver_uptime_seconds gauge\n"))
	writeMetric(w, "turbodriver_uptime_seconds", uptime)
	writeMetric(w, "turbodriver_requests_total", float64(atomic.LoadInt64(&h.requests)))
	if h.registry != nil {
		writeMetric(w, "turbodriver_connections", float64(h.registry.ConnectionCount()))
	}
	for le, count := range h.latency.snapshot() {
		_, _ = w.Write([]byte(metricLine("turbodriver_request_latency_seconds_bucket", le, float64(count))))
	}
}

func writeMetric(w http.ResponseWriter, name string, value float64) {
	_, _ = w.Write([]byte(metricLineNoLabel(name, value)))
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parseNonNegativeInt(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := parseNonNegativeInt(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}

// respondDispatchError translates a dispatch.Error kind to the matching
// HTTP status: the wire never carries a stack trace, only the kind and a
// human message.
func respondDispatchError(w http.ResponseWriter, err error) {
	kind := dispatch.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case dispatch.KindValidation:
		status = http.StatusBadRequest
	case dispatch.KindNotFound:
		status = http.StatusNotFound
	case dispatch.KindInvalidTransition, dispatch.KindConflict:
		status = http.StatusConflict
	case dispatch.KindGatewayUnavailable:
		status = http.StatusBadGateway
	case dispatch.KindTransientStore:
		status = http.StatusServiceUnavailable
	case dispatch.KindTimeout:
		status = http.StatusGatewayTimeout
	case dispatch.KindFatal:
		status = http.StatusInternalServerError
	}
	respondJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
}
