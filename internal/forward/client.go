package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/collectd-listener/internal/events"
	"github.com/skypro1111/collectd-listener/internal/metrics"
	"github.com/skypro1111/collectd-listener/internal/protocol"
)

const (
	userAgent  = "collectd-listener/1.0"
	maxBackoff = 30 * time.Second
)

// Client forwards decoded datagrams to a webhook endpoint
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	semaphore  chan struct{} // bounds concurrent requests

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains forwarder configuration
type Config struct {
	Endpoint      string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	AlertsOnly    bool          // skip datagrams without alerts and strip measurements
	RetryBackoff  time.Duration // first retry delay, doubled per attempt
}

// Batch is the JSON body posted for each datagram
type Batch struct {
	Source       string                 `json:"source"`
	ReceivedAt   time.Time              `json:"received_at"`
	Measurements []protocol.Measurement `json:"measurements,omitempty"`
	Alerts       []protocol.Alert       `json:"alerts,omitempty"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// statusError is returned for non-2xx responses
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// NewClient creates a new webhook client. m may be nil.
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// BatchFromEvent builds the webhook body for a data event.
// It reports false when there is nothing to forward.
func (c *Client) BatchFromEvent(e events.Event) (Batch, bool) {
	if e.Type != events.TypeData || e.Packet == nil {
		return Batch{}, false
	}

	batch := Batch{
		Source:     e.Source,
		ReceivedAt: e.Time,
		Alerts:     e.Packet.Alerts,
	}
	if !c.config.AlertsOnly {
		batch.Measurements = e.Packet.Measurements
	}

	if len(batch.Alerts) == 0 && len(batch.Measurements) == 0 {
		return Batch{}, false
	}
	return batch, true
}

// Run forwards data events from sub until ctx is cancelled or sub is closed.
// At most MaxConcurrent batches are in flight; while all slots are busy Run
// stops reading sub, so the hub drops and counts the overflow.
// In-flight requests are waited for before Run returns.
func (c *Client) Run(ctx context.Context, sub *events.Subscription) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}

			batch, ok := c.BatchFromEvent(e)
			if !ok {
				continue
			}

			select {
			case c.semaphore <- struct{}{}:
			case <-ctx.Done():
				return nil
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-c.semaphore }()

				if err := c.forward(ctx, batch); err != nil && ctx.Err() == nil {
					c.logger.Error("Failed to forward datagram",
						slog.String("remote_addr", batch.Source),
						slog.Int("measurements", len(batch.Measurements)),
						slog.Int("alerts", len(batch.Alerts)),
						slog.String("error", err.Error()),
					)
				}
			}()
		}
	}
}

// Forward posts one batch, retrying transient failures with exponential backoff
func (c *Client) Forward(ctx context.Context, batch Batch) error {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.forward(ctx, batch)
}

// forward is Forward for a caller that already holds a semaphore slot
func (c *Client) forward(ctx context.Context, batch Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoff := c.config.RetryBackoff << (attempt - 1)
			if backoff > maxBackoff || backoff <= 0 {
				backoff = maxBackoff
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.incrementFailedRequests(time.Since(startTime))
				return ctx.Err()
			}
		}

		err := c.doRequest(ctx, body)
		if err == nil {
			c.incrementSuccessRequests(time.Since(startTime))
			return nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	c.incrementFailedRequests(time.Since(startTime))
	return fmt.Errorf("forward failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single POST
func (c *Client) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	return nil
}

// isRetryableError reports whether a failed request is worth retrying:
// 5xx and 429 responses, timeouts and network errors
func isRetryableError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests(elapsed time.Duration) {
	c.mu.Lock()
	c.successRequests++
	if c.avgResponseTime == 0 {
		c.avgResponseTime = elapsed
	} else {
		c.avgResponseTime = (c.avgResponseTime + elapsed) / 2
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordForwardSuccess(elapsed.Seconds())
	}
}

func (c *Client) incrementFailedRequests(elapsed time.Duration) {
	c.mu.Lock()
	c.failedRequests++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordForwardFailure(elapsed.Seconds())
	}
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	c.totalRetries++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordForwardRetry()
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}
