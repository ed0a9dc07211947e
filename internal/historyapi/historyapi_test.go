package historyapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"marketdata/internal/engine"
	"marketdata/internal/model"
	"marketdata/internal/pairs"
	"marketdata/internal/snapshotstore"
)

type fakeStates struct {
	state engine.State
	ok    bool
}

func (f fakeStates) State(pairs.ID) (engine.State, bool) { return f.state, f.ok }

func newTestRouter(t *testing.T) (*gin.Engine, *snapshotstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	table := pairs.NewTable([]pairs.ID{"ZEC"})
	store := snapshotstore.New([]pairs.ID{"ZEC"}, 5, 60)
	h := New(table, store, fakeStates{state: engine.StateLive, ok: true}, 0)

	router := gin.New()
	api := router.Group("/api/v1")
	h.Register(router, api, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	return router, store
}

func TestHistoryUnknownPair(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/DOGE", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown pair, got %d", w.Code)
	}
}

func TestHistoryNoDataYet(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/ZEC", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any snapshot inserted, got %d", w.Code)
	}
}

func TestHistoryReturnsEnvelope(t *testing.T) {
	router, store := newTestRouter(t)
	store.Insert("ZEC", model.Snapshot{Pair: "ZEC", Timestamp: 10}, 10)
	store.Insert("ZEC", model.Snapshot{Pair: "ZEC", Timestamp: 15}, 15)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/ZEC", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]uint64
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["minTimestamp"] != 10 || body["maxTimestamp"] != 15 {
		t.Errorf("unexpected envelope: %+v", body)
	}
}

func TestSnapshotMalformedTS(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshot/ZEC/not-a-number", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed ts, got %d", w.Code)
	}
}

func TestSnapshotOutOfWindow(t *testing.T) {
	router, store := newTestRouter(t)
	store.Insert("ZEC", model.Snapshot{Pair: "ZEC", Timestamp: 100}, 100)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshot/ZEC/1", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for out-of-window ts, got %d", w.Code)
	}
}

func TestSnapshotFound(t *testing.T) {
	router, store := newTestRouter(t)
	store.Insert("ZEC", model.Snapshot{
		Pair:      "ZEC",
		Timestamp: 10,
		Bids:      []model.PriceLevel{},
		Asks:      []model.PriceLevel{},
	}, 10)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshot/ZEC/12", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
