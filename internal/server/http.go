package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/skypro1111/collectd-listener/internal/config"
	"github.com/skypro1111/collectd-listener/internal/events"
	"github.com/skypro1111/collectd-listener/internal/forward"
	"github.com/skypro1111/collectd-listener/internal/metrics"
	"github.com/skypro1111/collectd-listener/internal/sender"
)

const (
	serviceName    = "collectd-listener"
	serviceVersion = "1.0.0"

	eventWriteTimeout = 5 * time.Second
)

// HTTPServer provides HTTP API endpoints for monitoring and live events
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	config   *config.Config
	deps     Components

	startTime time.Time
}

// Components are the running parts the HTTP API reports on.
// Forwarder may be nil when forwarding is disabled.
type Components struct {
	UDP       *UDPServer
	Senders   *sender.Registry
	Hub       *events.Hub
	Forwarder *forward.Client
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer // served on /metrics
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config, deps Components) *HTTPServer {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		deps:      deps,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, fmt.Sprint(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Datagram sources
	mux.HandleFunc("/senders", h.withMetrics("/senders", h.handleSenders))
	mux.HandleFunc("/senders/", h.withMetrics("/senders/{addr}", h.handleSenderDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Live decoded datagrams over WebSocket
	mux.HandleFunc("/events", h.withMetrics("/events", h.handleEvents))

	mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if h.deps.Metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket handshake take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// writeJSON encodes v as the response body, logging encode failures at debug level
func (h *HTTPServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to encode response", slog.String("error", err.Error()))
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	udpStats := h.deps.UDP.GetStatistics()

	components := map[string]interface{}{
		"udp_server": map[string]interface{}{
			"status":             "running",
			"datagrams_received": udpStats.DatagramsReceived,
			"datagrams_decoded":  udpStats.DatagramsDecoded,
			"decode_errors":      udpStats.DecodeErrors,
			"queue_size":         udpStats.QueueSize,
		},
		"senders": map[string]interface{}{
			"status": "running",
			"active": udpStats.ActiveSenders,
		},
		"events": map[string]interface{}{
			"status":      "running",
			"subscribers": h.deps.Hub.SubscriberCount(),
		},
	}

	if h.deps.Forwarder != nil {
		forwardStats := h.deps.Forwarder.GetStats()
		components["forwarder"] = map[string]interface{}{
			"status":          "running",
			"total_requests":  forwardStats.TotalRequests,
			"success_rate":    forwardStats.SuccessRate,
			"active_requests": forwardStats.ActiveRequests,
		}
	}

	h.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// handleSenders implements the /senders endpoint
func (h *HTTPServer) handleSenders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	senders := h.deps.Senders.List()

	h.writeJSON(w, map[string]interface{}{
		"total_senders": len(senders),
		"timestamp":     time.Now().UTC(),
		"senders":       senders,
	})
}

// handleSenderDetail implements the /senders/{addr} endpoint
func (h *HTTPServer) handleSenderDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	addr := strings.TrimPrefix(r.URL.Path, "/senders/")
	if addr == "" {
		http.Error(w, "Sender address required", http.StatusBadRequest)
		return
	}

	s, exists := h.deps.Senders.Get(addr)
	if !exists {
		http.Error(w, "Sender not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, s)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Credentials embedded in the webhook URL are redacted
	endpoint := h.config.Forward.Endpoint
	if u, err := url.Parse(endpoint); err == nil {
		endpoint = u.Redacted()
	}

	h.writeJSON(w, map[string]interface{}{
		"server": map[string]interface{}{
			"network":         h.config.Server.Network,
			"bind_address":    h.config.Server.BindAddress,
			"udp_port":        h.config.Server.UDPPort,
			"multicast_group": h.config.Server.MulticastGroup,
			"interface":       h.config.Server.Interface,
			"buffer_size":     h.config.Server.BufferSize,
			"workers":         h.config.Server.Workers,
			"queue_size":      h.config.Server.QueueSize,
		},
		"senders": map[string]interface{}{
			"ttl":              h.config.Senders.TTL,
			"cleanup_interval": h.config.Senders.CleanupInterval,
		},
		"forward": map[string]interface{}{
			"enabled":        h.config.Forward.Enabled,
			"endpoint":       endpoint,
			"timeout":        h.config.Forward.Timeout,
			"max_retries":    h.config.Forward.MaxRetries,
			"max_concurrent": h.config.Forward.MaxConcurrent,
			"alerts_only":    h.config.Forward.AlertsOnly,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"udp":       h.deps.UDP.GetStatistics(),
		"events": map[string]interface{}{
			"subscribers": h.deps.Hub.SubscriberCount(),
		},
	}
	if h.deps.Forwarder != nil {
		stats["forward"] = h.deps.Forwarder.GetStats()
	}

	h.writeJSON(w, stats)
}

// handleEvents streams hub events as JSON text frames.
// The optional types query parameter filters by event type, e.g. ?types=data,error.
func (h *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var filter map[events.Type]bool
	if types := r.URL.Query().Get("types"); types != "" {
		filter = make(map[events.Type]bool)
		for _, t := range strings.Split(types, ",") {
			filter[events.Type(strings.TrimSpace(t))] = true
		}
	}

	// The server read/write timeouts would otherwise cut the stream
	rc := http.NewResponseController(w)
	rc.SetReadDeadline(time.Time{})
	rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket handshake failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.CloseNow()

	sub := h.deps.Hub.Subscribe()
	defer h.deps.Hub.Unsubscribe(sub)

	h.logger.Info("Event subscriber connected", slog.String("remote_addr", r.RemoteAddr))

	// Clients only listen; CloseRead handles their close frame
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Event subscriber disconnected",
				slog.String("remote_addr", r.RemoteAddr),
				slog.Uint64("dropped", sub.Dropped()),
			)
			return
		case e, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "listener stopped")
				return
			}
			if filter != nil && !filter[e.Type] {
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, e)
			cancel()
			if err != nil {
				h.logger.Debug("Failed to write event",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"service": "collectd network listener",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":               "API documentation",
			"GET /health":         "Service health check",
			"GET /senders":        "List datagram sources seen within the TTL",
			"GET /senders/{addr}": "Get one datagram source by host:port",
			"GET /config":         "Get service configuration",
			"GET /stats":          "Get listener statistics",
			"GET /events":         "WebSocket stream of decoded datagrams (?types=data,error,start,close)",
			"GET /metrics":        "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
