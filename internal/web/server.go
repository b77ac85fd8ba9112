// Package web exposes the bot's operational HTTP surface: liveness,
// state snapshot, recent trades and Prometheus metrics. It is read-only;
// trading is never driven over HTTP.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solotrader/internal/domain"
	"solotrader/internal/tradelog"
)

// StateSource provides the engine's current view for the status and health
// endpoints.
type StateSource interface {
	Snapshot() domain.EngineState
	Healthy() bool
}

type Handler struct {
	src    StateSource
	tlog   *tradelog.Log
	symbol string
	start  time.Time
}

// NewRouter builds the read-only operational API.
func NewRouter(src StateSource, tlog *tradelog.Log, reg *prometheus.Registry, symbol string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{src: src, tlog: tlog, symbol: symbol, start: time.Now()}

	router.GET("/healthz", h.healthz)
	router.GET("/status", h.status)
	router.GET("/trades", h.trades)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return router
}

func (h *Handler) healthz(c *gin.Context) {
	if !h.src.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stalled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) status(c *gin.Context) {
	st := h.src.Snapshot()

	body := gin.H{
		"symbol":         h.symbol,
		"time":           time.Now().UTC(),
		"uptime_sec":     int(time.Since(h.start).Seconds()),
		"in_position":    st.Position.Live(),
		"consec_losses":  st.ConsecLosses,
		"cooldown_until": st.CooldownUntil,
	}
	if !st.LastClosedTime.IsZero() {
		body["last_closed_time"] = st.LastClosedTime
	}
	if st.Position.Live() {
		body["position"] = gin.H{
			"deal_id":     st.Position.DealID,
			"direction":   st.Position.Direction,
			"size":        st.Position.Size,
			"entry_price": st.Position.EntryPrice,
			"stop":        st.Position.Stop,
			"target":      st.Position.Target,
			"recovered":   st.Position.Recovered,
		}
	}

	c.JSON(http.StatusOK, body)
}

func (h *Handler) trades(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	recs, err := h.tlog.ReadAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  len(recs),
		"trades": recs,
	})
}

// Serve runs the router until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, router *gin.Engine, addr string, log *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info("http server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
