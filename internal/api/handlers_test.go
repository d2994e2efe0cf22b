package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/turbodriver/dispatch-core/internal/auth"
	"github.com/turbodriver/dispatch-core/internal/dispatch"
	"github.com/turbodriver/dispatch-core/internal/realtime"
)

// testRouterWithRideID wraps a handler in a minimal chi router so
// chi.URLParam(r, "rideID") resolves the way it does in production.
func testRouterWithRideID(handler http.HandlerFunc, rideID string) http.Handler {
	r := chi.NewRouter()
	r.MethodFunc(http.MethodGet, "/api/rides/{rideID}", handler)
	r.MethodFunc(http.MethodPost, "/api/rides/{rideID}/cancel", handler)
	return r
}

func authStoreForTest() *auth.InMemoryStore {
	return auth.NewInMemoryStore()
}

// fakeServiceArea always reports in-area, matching the happy path tested
// here; out-of-area rejection is covered at the dispatch.Lifecycle level.
type fakeServiceArea struct{}

func (fakeServiceArea) Validate(lat, lon float64) (bool, bool) { return true, false }

type fakeFare struct{}

func (fakeFare) Estimate(pickup, destination dispatch.Coordinate, distanceKM float64) dispatch.FareBreakdown {
	return dispatch.FareBreakdown{Base: 5, Distance: distanceKM, Estimated: true}
}

func (fakeFare) Protect(estimated, final float64) float64 { return final }

type fakePayments struct{}

func (fakePayments) Charge(ctx context.Context, rideID, riderID, driverID string, amount float64) (string, error) {
	return "txn_test", nil
}

type fakeNotifier struct{}

func (fakeNotifier) SendTo(userID, event string, payload any) error { return nil }
func (fakeNotifier) IsConnected(userID string) bool                 { return false }

type noopLocationIndex struct{}

func (noopLocationIndex) Upsert(context.Context, dispatch.LocationSample) error { return nil }
func (noopLocationIndex) Remove(context.Context, string) error                 { return nil }
func (noopLocationIndex) Get(context.Context, string) (dispatch.LocationSample, bool, error) {
	return dispatch.LocationSample{}, false, nil
}
func (noopLocationIndex) QueryNearby(context.Context, dispatch.Coordinate, float64, int, dispatch.LocationFilters) ([]dispatch.LocationCandidate, error) {
	return nil, nil
}
func (noopLocationIndex) HealthCheck(context.Context) error { return nil }

type noopClaimStore struct{}

func (noopClaimStore) Claim(context.Context, string, string, time.Duration) (bool, error) {
	return false, nil
}
func (noopClaimStore) Winner(context.Context, string) (string, bool, error) { return "", false, nil }
func (noopClaimStore) Release(context.Context, string) error                { return nil }

type noopRejectionMemory struct{}

func (noopRejectionMemory) Reject(context.Context, string, string) error { return nil }
func (noopRejectionMemory) Rejected(context.Context, string) (map[string]struct{}, error) {
	return nil, nil
}

func newTestHandler() (*Handler, *dispatch.MemoryStore) {
	store := dispatch.NewMemoryStore()
	matcher := dispatch.NewMatcher(noopLocationIndex{}, store, noopClaimStore{}, noopRejectionMemory{}, nil, fakeNotifier{}, dispatch.MatcherConfig{
		InitialRadiusKM: 1, RadiusStepKM: 1, MaxRadiusKM: 1, RoundTimeout: time.Millisecond, MatchTimeout: time.Millisecond, ClaimTTL: time.Second, CandidatesPerRound: 5,
	})
	lifecycle := &dispatch.Lifecycle{
		Rides:        store,
		Locations:    noopLocationIndex{},
		Matcher:      matcher,
		Notify:       fakeNotifier{},
		Fare:         fakeFare{},
		Payments:     fakePayments{},
		Cancellation: dispatch.NewCancellationPolicy(2*time.Minute, 5.0),
		ServiceArea:  fakeServiceArea{},
		Clock:        dispatch.RealClock{},
	}
	registry := realtime.NewRegistry(nil, 0)
	h := NewHandler(lifecycle, store, registry, func(string, realtime.InboundMessage) {}, nil, nil, nil, time.Hour)
	return h, store
}

func withIdentity(r *http.Request, identity dispatch.Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityCtxKey{}, identity))
}

func TestHandler_RequestRide_CreatesRide(t *testing.T) {
	h, _ := newTestHandler()
	rider := dispatch.Identity{ID: "rider_1", Role: dispatch.RoleRider}

	body, _ := json.Marshal(requestRideBody{
		Pickup:      dispatch.Coordinate{Latitude: 40.758, Longitude: -73.9855},
		Destination: dispatch.Coordinate{Latitude: 40.7484, Longitude: -73.9857},
	})
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/rides", bytes.NewReader(body)), rider)
	rec := httptest.NewRecorder()

	h.RequestRide(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var ride dispatch.Ride
	if err := json.Unmarshal(rec.Body.Bytes(), &ride); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ride.Status != dispatch.StatusRequested {
		t.Errorf("Status = %s, want %s", ride.Status, dispatch.StatusRequested)
	}
}

func TestHandler_RequestRide_IdempotentReplayReturnsOriginal(t *testing.T) {
	h, _ := newTestHandler()
	rider := dispatch.Identity{ID: "rider_1", Role: dispatch.RoleRider}

	body, _ := json.Marshal(requestRideBody{
		Pickup:      dispatch.Coordinate{Latitude: 40.758, Longitude: -73.9855},
		Destination: dispatch.Coordinate{Latitude: 40.7484, Longitude: -73.9857},
	})

	first := withIdentity(httptest.NewRequest(http.MethodPost, "/api/rides", bytes.NewReader(body)), rider)
	first.Header.Set("Idempotency-Key", "retry-1")
	rec1 := httptest.NewRecorder()
	h.RequestRide(rec1, first)
	if rec1.Code != http.StatusCreated {
		t.Fatalf("first request status = %d, want %d", rec1.Code, http.StatusCreated)
	}
	var created dispatch.Ride
	_ = json.Unmarshal(rec1.Body.Bytes(), &created)

	second := withIdentity(httptest.NewRequest(http.MethodPost, "/api/rides", bytes.NewReader(body)), rider)
	second.Header.Set("Idempotency-Key", "retry-1")
	rec2 := httptest.NewRecorder()
	h.RequestRide(rec2, second)

	if rec2.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want %d, body=%s", rec2.Code, http.StatusOK, rec2.Body.String())
	}
	var replayed dispatch.Ride
	_ = json.Unmarshal(rec2.Body.Bytes(), &replayed)
	if replayed.ID != created.ID {
		t.Errorf("replayed ride ID = %s, want %s (no duplicate should be created)", replayed.ID, created.ID)
	}
}

func TestHandler_RequestRide_DifferentIdempotencyKeyCreatesNewRide(t *testing.T) {
	h, _ := newTestHandler()
	rider := dispatch.Identity{ID: "rider_1", Role: dispatch.RoleRider}
	body, _ := json.Marshal(requestRideBody{
		Pickup:      dispatch.Coordinate{Latitude: 40.758, Longitude: -73.9855},
		Destination: dispatch.Coordinate{Latitude: 40.7484, Longitude: -73.9857},
	})

	req1 := withIdentity(httptest.NewRequest(http.MethodPost, "/api/rides", bytes.NewReader(body)), rider)
	req1.Header.Set("Idempotency-Key", "key-a")
	rec1 := httptest.NewRecorder()
	h.RequestRide(rec1, req1)
	var r1 dispatch.Ride
	_ = json.Unmarshal(rec1.Body.Bytes(), &r1)

	req2 := withIdentity(httptest.NewRequest(http.MethodPost, "/api/rides", bytes.NewReader(body)), rider)
	req2.Header.Set("Idempotency-Key", "key-b")
	rec2 := httptest.NewRecorder()
	h.RequestRide(rec2, req2)
	var r2 dispatch.Ride
	_ = json.Unmarshal(rec2.Body.Bytes(), &r2)

	if r1.ID == r2.ID {
		t.Error("expected distinct idempotency keys to create distinct rides")
	}
}

func TestHandler_RequestRide_WrongRoleForbidden(t *testing.T) {
	h, _ := newTestHandler()
	driver := dispatch.Identity{ID: "driver_1", Role: dispatch.RoleDriver}

	body, _ := json.Marshal(requestRideBody{})
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/rides", bytes.NewReader(body)), driver)
	rec := httptest.NewRecorder()

	h.RequestRide(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHandler_GetRide_OwningRiderAllowed(t *testing.T) {
	h, store := newTestHandler()
	ride, _ := store.CreateRide(context.Background(), dispatch.Ride{ID: "ride_1", RiderID: "rider_1", Status: dispatch.StatusRequested})

	router := testRouterWithRideID(h.GetRide, ride.ID)
	rider := dispatch.Identity{ID: "rider_1", Role: dispatch.RoleRider}
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/rides/"+ride.ID, nil), rider)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestHandler_GetRide_OtherRiderForbidden(t *testing.T) {
	h, store := newTestHandler()
	ride, _ := store.CreateRide(context.Background(), dispatch.Ride{ID: "ride_1", RiderID: "rider_1", Status: dispatch.StatusRequested})

	router := testRouterWithRideID(h.GetRide, ride.ID)
	other := dispatch.Identity{ID: "rider_2", Role: dispatch.RoleRider}
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/rides/"+ride.ID, nil), other)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestHandler_GetRide_NotFound(t *testing.T) {
	h, _ := newTestHandler()
	router := testRouterWithRideID(h.GetRide, "missing")
	admin := dispatch.Identity{ID: "admin_1", Role: dispatch.RoleAdmin}
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/api/rides/missing", nil), admin)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandler_RegisterIdentity(t *testing.T) {
	h, _ := newTestHandler()
	h.authStore = authStoreForTest()

	body, _ := json.Marshal(registerRequest{Role: dispatch.RoleRider})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.RegisterIdentity(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var identity dispatch.Identity
	if err := json.Unmarshal(rec.Body.Bytes(), &identity); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if identity.Token == "" {
		t.Error("expected a non-empty token")
	}
}

func TestHandler_CancelRide_AppliesFee(t *testing.T) {
	h, store := newTestHandler()
	matchedAt := time.Now().Add(-10 * time.Minute)
	ride, _ := store.CreateRide(context.Background(), dispatch.Ride{
		ID: "ride_1", RiderID: "rider_1", Status: dispatch.StatusMatched, MatchedAt: &matchedAt, RequestedAt: matchedAt,
	})

	router := testRouterWithRideID(h.CancelRide, ride.ID)
	rider := dispatch.Identity{ID: "rider_1", Role: dispatch.RoleRider}
	payload, _ := json.Marshal(cancelRideBody{Reason: "no longer needed"})
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/rides/"+ride.ID+"/cancel", bytes.NewReader(payload)), rider)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var updated dispatch.Ride
	_ = json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.CancelFee != 5.0 {
		t.Errorf("CancelFee = %v, want 5.0", updated.CancelFee)
	}
}
