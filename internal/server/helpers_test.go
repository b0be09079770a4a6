package server

import (
	"encoding/binary"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/collectd-listener/internal/config"
	"github.com/skypro1111/collectd-listener/internal/events"
	"github.com/skypro1111/collectd-listener/internal/metrics"
	"github.com/skypro1111/collectd-listener/internal/protocol"
	"github.com/skypro1111/collectd-listener/internal/sender"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func record(t protocol.RecordType, payload []byte) []byte {
	data := make([]byte, protocol.HeaderSize+len(payload))
	binary.BigEndian.PutUint16(data[0:], uint16(t))
	binary.BigEndian.PutUint16(data[2:], uint16(len(data)))
	copy(data[protocol.HeaderSize:], payload)
	return data
}

func stringRecord(t protocol.RecordType, s string) []byte {
	return record(t, append([]byte(s), 0))
}

func numberRecord(t protocol.RecordType, v uint64) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, v)
	return record(t, payload)
}

func gaugeRecord(v float64) []byte {
	payload := make([]byte, 2+1+8)
	binary.BigEndian.PutUint16(payload[0:], 1)
	payload[2] = uint8(protocol.DSGauge)
	binary.LittleEndian.PutUint64(payload[3:], math.Float64bits(v))
	return record(protocol.TypeValues, payload)
}

// loadDatagram is one measurement of host/load/load with a single gauge
func loadDatagram(host string, v float64) []byte {
	var buf []byte
	buf = append(buf, stringRecord(protocol.TypeHost, host)...)
	buf = append(buf, numberRecord(protocol.TypeTime, 1700000000)...)
	buf = append(buf, stringRecord(protocol.TypePlugin, "load")...)
	buf = append(buf, stringRecord(protocol.TypeType, "load")...)
	buf = append(buf, gaugeRecord(v)...)
	return buf
}

type testEnv struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	senders  *sender.Registry
	hub      *events.Hub
	udp      *UDPServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.UDPPort = 0
	cfg.Server.MulticastGroup = ""
	cfg.Server.Workers = 2
	cfg.Server.QueueSize = 16

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	senders := sender.NewRegistry(time.Minute, time.Minute, newTestLogger())
	hub := events.NewHub(16, newTestLogger(), m)

	t.Cleanup(func() {
		hub.Close()
		senders.Stop()
	})

	return &testEnv{
		cfg:      &cfg,
		registry: reg,
		metrics:  m,
		senders:  senders,
		hub:      hub,
		udp:      NewUDPServer(&cfg.Server, newTestLogger(), m, senders, hub),
	}
}

func nextEvent(t *testing.T, sub *events.Subscription) events.Event {
	t.Helper()
	select {
	case e, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}
