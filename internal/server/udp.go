package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/collectd-listener/internal/config"
	"github.com/skypro1111/collectd-listener/internal/events"
	"github.com/skypro1111/collectd-listener/internal/metrics"
	"github.com/skypro1111/collectd-listener/internal/protocol"
	"github.com/skypro1111/collectd-listener/internal/sender"
)

// gaugeInterval is how often queue and sender gauges are refreshed
const gaugeInterval = 5 * time.Second

// UDPServer receives collectd datagrams and decodes them on a worker pool
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.ServerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	senders *sender.Registry
	hub     *events.Hub

	// Concurrency management
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
	stopErr  error

	// Datagram processing
	packetChan chan *incomingPacket

	// Statistics
	datagramsReceived   uint64
	datagramsDecoded    uint64
	datagramsDropped    uint64
	decodeErrors        uint64
	measurementsDecoded uint64
	alertsDecoded       uint64
	mu                  sync.RWMutex
}

// incomingPacket represents a received datagram with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// ServerStatistics represents listener counters
type ServerStatistics struct {
	DatagramsReceived   uint64 `json:"datagrams_received"`
	DatagramsDecoded    uint64 `json:"datagrams_decoded"`
	DatagramsDropped    uint64 `json:"datagrams_dropped"`
	DecodeErrors        uint64 `json:"decode_errors"`
	MeasurementsDecoded uint64 `json:"measurements_decoded"`
	AlertsDecoded       uint64 `json:"alerts_decoded"`
	ActiveSenders       uint64 `json:"active_senders"`
	QueueSize           uint64 `json:"queue_size"`
	QueueCapacity       uint64 `json:"queue_capacity"`
}

// NewUDPServer creates a new UDP server instance. m may be nil.
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, m *metrics.Metrics, senders *sender.Registry, hub *events.Hub) *UDPServer {
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		metrics:    m,
		senders:    senders,
		hub:        hub,
		packetChan: make(chan *incomingPacket, queueSize),
	}
}

// listen opens a unicast socket, or joins the multicast group when one is configured
func (s *UDPServer) listen() (*net.UDPConn, error) {
	network := s.config.Network
	if network == "" {
		network = protocol.DefaultNetwork
	}

	if s.config.MulticastGroup == "" {
		addr, err := net.ResolveUDPAddr(network, net.JoinHostPort(s.config.BindAddress, fmt.Sprint(s.config.UDPPort)))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
		}
		conn, err := net.ListenUDP(network, addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on UDP: %w", err)
		}
		return conn, nil
	}

	group, err := net.ResolveUDPAddr(network, net.JoinHostPort(s.config.MulticastGroup, fmt.Sprint(s.config.UDPPort)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve multicast group: %w", err)
	}

	var ifi *net.Interface
	if s.config.Interface != "" {
		ifi, err = net.InterfaceByName(s.config.Interface)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %q: %w", s.config.Interface, err)
		}
	}

	conn, err := net.ListenMulticastUDP(network, ifi, group)
	if err != nil {
		return nil, fmt.Errorf("failed to join multicast group %s: %w", group, err)
	}
	return conn, nil
}

// Start binds the socket and starts the receive loop and decode workers
func (s *UDPServer) Start() error {
	conn, err := s.listen()
	if err != nil {
		return err
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	s.group = g

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.String("multicast_group", s.config.MulticastGroup),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", s.config.Workers),
	)

	workers := s.config.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		workerID := i
		g.Go(func() error {
			s.packetProcessor(workerID)
			return nil
		})
	}

	g.Go(func() error {
		return s.receiveLoop(ctx)
	})

	g.Go(func() error {
		s.gaugeLoop(ctx)
		return nil
	})

	s.publish(events.Event{Type: events.TypeStart, Source: s.conn.LocalAddr().String()})

	return nil
}

// Stop gracefully stops the UDP server, draining queued datagrams.
// Calls after the first return the first call's result.
func (s *UDPServer) Stop() error {
	if s.cancel == nil {
		return nil
	}

	s.stopOnce.Do(func() {
		s.stopErr = s.stop()
	})
	return s.stopErr
}

func (s *UDPServer) stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	// Unblock the receive loop
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
	}

	err := s.group.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("datagrams_decoded", stats.DatagramsDecoded),
		slog.Uint64("datagrams_dropped", stats.DatagramsDropped),
		slog.Uint64("decode_errors", stats.DecodeErrors),
	)

	s.publish(events.Event{Type: events.TypeClose, Source: s.conn.LocalAddr().String()})

	return err
}

// LocalAddr returns the bound address, or nil before Start
func (s *UDPServer) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// receiveLoop is the main datagram receiving loop. It is the only sender on
// packetChan and closes it on exit so the workers drain and stop.
func (s *UDPServer) receiveLoop(ctx context.Context) error {
	defer close(s.packetChan)

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Receive loop stopping due to context cancellation")
			return nil
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		s.datagramsReceived++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordDatagramReceived(n)
		}

		// Copy out of the reused buffer
		data := make([]byte, n)
		copy(data, buffer[:n])

		packet := &incomingPacket{
			data:       data,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
		default:
			s.mu.Lock()
			s.datagramsDropped++
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.RecordDatagramDropped()
			}

			s.logger.Warn("Decode queue full, dropping datagram",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("datagram_size", n),
			)
		}
	}
}

// packetProcessor decodes datagrams from the queue until it is closed
func (s *UDPServer) packetProcessor(workerID int) {
	s.logger.Debug("Datagram processor started", slog.Int("worker_id", workerID))

	for packet := range s.packetChan {
		s.handlePacket(packet, workerID)
	}

	s.logger.Debug("Datagram processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket decodes a single datagram and fans out the result
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	source := packet.remoteAddr.String()

	decoded, err := protocol.Decode(packet.data)
	if err != nil {
		kind := protocol.ErrorKind(err)

		s.mu.Lock()
		s.decodeErrors++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordDecodeError(kind)
		}

		s.logger.Warn("Failed to decode datagram",
			slog.String("remote_addr", source),
			slog.Int("datagram_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)

		s.senders.ObserveError(source, err, packet.timestamp)
		s.publish(events.Event{
			Type:      events.TypeError,
			Time:      packet.timestamp,
			Source:    source,
			Error:     err.Error(),
			ErrorKind: kind,
		})
		return
	}

	s.mu.Lock()
	s.datagramsDecoded++
	s.measurementsDecoded += uint64(len(decoded.Measurements))
	s.alertsDecoded += uint64(len(decoded.Alerts))
	s.mu.Unlock()

	if s.metrics != nil {
		severities := make([]string, len(decoded.Alerts))
		for i := range decoded.Alerts {
			severities[i] = decoded.Alerts[i].Severity.Label()
		}
		skipped := make([]string, len(decoded.Skipped))
		for i := range decoded.Skipped {
			skipped[i] = decoded.Skipped[i].Type.Label()
		}
		s.metrics.RecordDecoded(len(decoded.Measurements), severities, skipped)
	}

	for _, rec := range decoded.Skipped {
		s.logger.Debug("Skipped record without decoder",
			slog.String("remote_addr", source),
			slog.String("type", rec.Type.String()),
			slog.Int("offset", rec.Offset),
			slog.Int("length", int(rec.Length)),
		)
	}

	s.senders.Observe(source, decoded, packet.timestamp)

	s.logger.Debug("Datagram decoded",
		slog.String("remote_addr", source),
		slog.Int("measurements", len(decoded.Measurements)),
		slog.Int("alerts", len(decoded.Alerts)),
		slog.Int("worker_id", workerID),
	)

	s.publish(events.Event{
		Type:   events.TypeData,
		Time:   packet.timestamp,
		Source: source,
		Packet: decoded,
	})
}

// gaugeLoop refreshes the queue and sender gauges
func (s *UDPServer) gaugeLoop(ctx context.Context) {
	if s.metrics == nil {
		return
	}

	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.SetQueueSize(len(s.packetChan))
			s.metrics.SetActiveSenders(s.senders.Count())
		}
	}
}

func (s *UDPServer) publish(e events.Event) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(e)
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		DatagramsReceived:   s.datagramsReceived,
		DatagramsDecoded:    s.datagramsDecoded,
		DatagramsDropped:    s.datagramsDropped,
		DecodeErrors:        s.decodeErrors,
		MeasurementsDecoded: s.measurementsDecoded,
		AlertsDecoded:       s.alertsDecoded,
		ActiveSenders:       uint64(s.senders.Count()),
		QueueSize:           uint64(len(s.packetChan)),
		QueueCapacity:       uint64(cap(s.packetChan)),
	}
}
