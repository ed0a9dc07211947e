// Package historyapi implements the REST endpoints from spec.md §4.6:
// GET /history/{pair} (the retention envelope) and
// GET /snapshot/{pair}/{ts} (point-in-time lookup), plus the
// supplemented /healthz and /metrics ops surface from SPEC_FULL.md
// §4.6.
//
// Grounded on api/pms.go + cmd/pms/main.go's gin-router-group-plus-
// swagger wiring; handlers carry the same @Summary/@Router swag
// annotations the teacher uses.
package historyapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"marketdata/internal/engine"
	"marketdata/internal/errkind"
	"marketdata/internal/model"
	"marketdata/internal/pairs"
	"marketdata/internal/snapshotstore"
)

// EngineStates reports each configured pair's current engine state, for
// /healthz.
type EngineStates interface {
	State(pair pairs.ID) (engine.State, bool)
}

// Handlers bundles the dependencies HistoryAPI routes need.
type Handlers struct {
	pairs     *pairs.Table
	store     *snapshotstore.Store
	states    EngineStates
	requestTO time.Duration
}

// New constructs Handlers ready to be registered on a gin router group.
func New(pairsTable *pairs.Table, store *snapshotstore.Store, states EngineStates, requestTimeout time.Duration) *Handlers {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Handlers{pairs: pairsTable, store: store, states: states, requestTO: requestTimeout}
}

// Register wires the history routes onto apiGroup and adds
// /healthz, /metrics, /swagger/*any at the router root, mirroring the
// teacher's cmd/pms/main.go wiring style.
func (h *Handlers) Register(router gin.IRouter, apiGroup gin.IRouter, metricsHandler http.Handler) {
	apiGroup.Use(h.requestTimeout())
	apiGroup.GET("/history/:pair", h.history)
	apiGroup.GET("/snapshot/:pair/:ts", h.snapshotAt)

	router.GET("/healthz", h.healthz)
	router.GET("/metrics", gin.WrapH(metricsHandler))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// requestTimeout bounds every HistoryAPI handler to h.requestTO
// (spec.md §5 "HTTP handlers: request_timeout (default 10 s)").
func (h *Handlers) requestTimeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTO)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// @Summary History envelope
// @Description Returns the retention envelope (min/max stored timestamp) for a pair
// @Produce json
// @Param pair path string true "pair ticker"
// @Success 200 {object} historyResponse
// @Failure 404 {object} map[string]string
// @Router /history/{pair} [get]
func (h *Handlers) history(c *gin.Context) {
	pair := pairs.ID(c.Param("pair"))
	if !h.pairs.Known(pair) {
		writeErr(c, errkind.ErrUnknownPair)
		return
	}

	minTS, maxTS, ok := h.store.Range(pair)
	if !ok {
		writeErr(c, errkind.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, historyResponse{MinTimestamp: uint64(minTS), MaxTimestamp: uint64(maxTS)})
}

type historyResponse struct {
	MinTimestamp uint64 `json:"minTimestamp"`
	MaxTimestamp uint64 `json:"maxTimestamp"`
}

// @Summary Point-in-time snapshot
// @Description Returns the nearest stored snapshot at or before ts
// @Produce json
// @Param pair path string true "pair ticker"
// @Param ts path int true "unix timestamp (seconds)"
// @Success 200 {object} snapshotResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /snapshot/{pair}/{ts} [get]
func (h *Handlers) snapshotAt(c *gin.Context) {
	pair := pairs.ID(c.Param("pair"))
	if !h.pairs.Known(pair) {
		writeErr(c, errkind.ErrUnknownPair)
		return
	}

	ts, err := strconv.ParseInt(c.Param("ts"), 10, 64)
	if err != nil || ts < 0 {
		writeErr(c, errkind.ErrMalformedTS)
		return
	}

	snap, ok := h.store.At(pair, ts)
	if !ok {
		writeErr(c, errkind.ErrOutOfWindow)
		return
	}

	c.JSON(http.StatusOK, snapshotResponse{
		Ticker:    string(pair),
		Timestamp: uint64(snap.Timestamp),
		LastPrice: snap.LastPrice,
		Bids:      toLevelResponse(snap.Bids),
		Asks:      toLevelResponse(snap.Asks),
	})
}

// writeErr maps err to an HTTP status by errors.Is against the
// errkind sentinels, the dispatch the errkind package doc describes.
func writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errkind.ErrUnknownPair), errors.Is(err, errkind.ErrNotFound), errors.Is(err, errkind.ErrOutOfWindow):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errkind.ErrMalformedTS):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type snapshotResponse struct {
	Ticker    string           `json:"ticker"`
	Timestamp uint64           `json:"timestamp"`
	LastPrice *decimal.Decimal `json:"lastPrice,omitempty"`
	Bids      []levelResponse  `json:"bids"`
	Asks      []levelResponse  `json:"asks"`
}

type levelResponse struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

func toLevelResponse(levels []model.PriceLevel) []levelResponse {
	out := make([]levelResponse, len(levels))
	for i, l := range levels {
		out[i] = levelResponse{Price: l.Price, Volume: l.Volume}
	}
	return out
}

// @Summary Liveness and per-pair engine state
// @Produce json
// @Success 200 {object} map[string]any
// @Router /healthz [get]
func (h *Handlers) healthz(c *gin.Context) {
	states := make(map[string]string, len(h.pairs.All()))
	for _, id := range h.pairs.All() {
		st, ok := h.states.State(id)
		if !ok {
			states[string(id)] = "unknown"
			continue
		}
		states[string(id)] = st.String()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pairs": states})
}
