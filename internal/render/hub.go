package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"quant-signals/internal/logger"
	"quant-signals/internal/metrics"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// envelope is the websocket message carrying one chart.
type envelope struct {
	Type     string          `json:"type"`
	Strategy string          `json:"strategy"`
	Seq      int64           `json:"seq"`
	TS       string          `json:"ts"`
	Initial  bool            `json:"initial,omitempty"`
	Chart    json.RawMessage `json:"chart"`
}

type latestChart struct {
	Chart json.RawMessage
	Seq   int64
	TS    time.Time
}

// Hub is a Renderer that keeps the latest chart per strategy and pushes
// every rendered chart to connected websocket clients.
type Hub struct {
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestChart
	seq     int64
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		metrics: m,
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestChart),
	}
}

// Render stores chart as the latest for its strategy and broadcasts it.
func (h *Hub) Render(ctx context.Context, chart Chart) error {
	data, err := json.Marshal(chart)
	if err != nil {
		return fmt.Errorf("encode chart: %w", err)
	}
	now := time.Now().UTC()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.latest[chart.Strategy] = latestChart{Chart: data, Seq: seq, TS: now}
	h.mu.Unlock()

	msg, err := json.Marshal(envelope{
		Type:     "chart",
		Strategy: chart.Strategy,
		Seq:      seq,
		TS:       now.Format(time.RFC3339Nano),
		Chart:    data,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	sent := h.broadcast(chart.Strategy, msg)
	h.metrics.ObserveChartPublished()
	slog.Info("chart published", append(logger.LogWithRun(ctx),
		"strategy", chart.Strategy, "seq", seq, "clients", sent)...)
	return nil
}

// broadcast does a non-blocking send to every matching client; slow clients
// drop the message rather than stall the run.
func (h *Hub) broadcast(strategy string, msg []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.clients {
		if !c.wants(strategy) {
			continue
		}
		select {
		case c.send <- msg:
			sent++
		default:
			slog.Warn("chart client too slow, message dropped", "strategy", strategy)
		}
	}
	return sent
}

// Latest returns the most recent chart JSON per strategy.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		out[k] = v.Chart
	}
	return out
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client. The optional
// "strategy" query parameter restricts the client to one strategy.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}
	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 64),
		hub:      h,
		strategy: r.URL.Query().Get("strategy"),
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetChartClients(count)
	slog.Info("chart client connected", "total", count)

	client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters c and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	h.metrics.SetChartClients(count)
}

// Handler serves /ws and /charts.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWS)
	mux.HandleFunc("/charts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h.Latest()); err != nil {
			slog.Warn("charts encode failed", "error", err)
		}
	})
	return mux
}

// Serve runs the chart server on addr until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	slog.Info("chart server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("chart server: %w", err)
	}
	return nil
}

// strategies returns the strategies with a stored chart, sorted.
func (h *Hub) strategies() []string {
	out := make([]string, 0, len(h.latest))
	for k := range h.latest {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
