package server

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/collectd-listener/internal/events"
	"github.com/skypro1111/collectd-listener/internal/protocol"
)

func TestUDPServerReceivesDatagrams(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Server.Workers = 1 // keep event order equal to send order
	sub := env.hub.Subscribe()

	require.Nil(t, env.udp.LocalAddr())
	require.NoError(t, env.udp.Start())

	start := nextEvent(t, sub)
	require.Equal(t, events.TypeStart, start.Type)

	client, err := net.DialUDP("udp4", nil, env.udp.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write(loadDatagram("web01", 0.75))
	require.NoError(t, err)

	e := nextEvent(t, sub)
	require.Equal(t, events.TypeData, e.Type)
	require.Equal(t, client.LocalAddr().String(), e.Source)
	require.Len(t, e.Packet.Measurements, 1)
	m := e.Packet.Measurements[0]
	require.Equal(t, "web01/load/load", m.Identifier())
	require.Equal(t, float64(1700000000), m.Time)
	require.Equal(t, 0.75, m.Values[0].Number)

	// A record claiming more bytes than remain
	_, err = client.Write([]byte{0x00, 0x02, 0x00, 0x40, 'x'})
	require.NoError(t, err)

	e = nextEvent(t, sub)
	require.Equal(t, events.TypeError, e.Type)
	require.Equal(t, "truncated_record", e.ErrorKind)
	require.Nil(t, e.Packet)

	s, ok := env.senders.Get(client.LocalAddr().String())
	require.True(t, ok)
	require.Equal(t, uint64(2), s.Datagrams)
	require.Equal(t, uint64(1), s.Measurements)
	require.Equal(t, uint64(1), s.DecodeErrors)
	require.Equal(t, []string{"web01"}, s.Hosts)

	require.NoError(t, env.udp.Stop())

	closing := nextEvent(t, sub)
	require.Equal(t, events.TypeClose, closing.Type)

	stats := env.udp.GetStatistics()
	require.Equal(t, uint64(2), stats.DatagramsReceived)
	require.Equal(t, uint64(1), stats.DatagramsDecoded)
	require.Equal(t, uint64(1), stats.DecodeErrors)
	require.Equal(t, uint64(1), stats.MeasurementsDecoded)
	require.Equal(t, uint64(16), stats.QueueCapacity)

	require.Equal(t, float64(2), testutil.ToFloat64(env.metrics.DatagramsReceived))
	require.Equal(t, float64(1), testutil.ToFloat64(env.metrics.DecodeErrors.WithLabelValues("truncated_record")))
}

func TestUDPServerHandlePacket(t *testing.T) {
	tests := []struct {
		name              string
		data              []byte
		expectType        events.Type
		expectErrorKind   string
		expectSkippedType string
	}{
		{
			name:       "measurement",
			data:       loadDatagram("db01", 1.5),
			expectType: events.TypeData,
		},
		{
			name: "unknown record is skipped",
			data: append(record(protocol.RecordType(0x0200), []byte{1, 2}),
				loadDatagram("db01", 1.5)...),
			expectType:        events.TypeData,
			expectSkippedType: "unknown",
		},
		{
			name:            "record length below header size",
			data:            []byte{0x00, 0x00, 0x00, 0x02},
			expectType:      events.TypeError,
			expectErrorKind: "invalid_record_length",
		},
		{
			name:       "empty datagram",
			data:       []byte{},
			expectType: events.TypeData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			sub := env.hub.Subscribe()

			env.udp.handlePacket(&incomingPacket{
				data:       tt.data,
				remoteAddr: &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 40000},
				timestamp:  time.Now(),
			}, 0)

			e := nextEvent(t, sub)
			require.Equal(t, tt.expectType, e.Type)
			require.Equal(t, "192.0.2.1:40000", e.Source)
			require.Equal(t, tt.expectErrorKind, e.ErrorKind)

			if tt.expectSkippedType != "" {
				require.Len(t, e.Packet.Skipped, 1)
				require.Equal(t, float64(1), testutil.ToFloat64(env.metrics.RecordsSkipped.WithLabelValues(tt.expectSkippedType)))
			}
		})
	}
}

func TestUDPServerMetricLabelsBounded(t *testing.T) {
	env := newTestEnv(t)

	const datagrams = 2000
	for i := 0; i < datagrams; i++ {
		var data []byte
		data = append(data, record(protocol.RecordType(0x1000+i), []byte{0xaa})...)
		data = append(data, numberRecord(protocol.TypeSeverity, uint64(8+i))...)
		data = append(data, stringRecord(protocol.TypeMessage, "odd severity")...)
		data = append(data, numberRecord(protocol.TypeSeverity, uint64(protocol.SeverityFailure))...)
		data = append(data, stringRecord(protocol.TypeMessage, "disk failed")...)

		env.udp.handlePacket(&incomingPacket{
			data:       data,
			remoteAddr: &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 40000},
			timestamp:  time.Now(),
		}, 0)
	}

	require.Equal(t, 1, testutil.CollectAndCount(env.metrics.RecordsSkipped))
	require.Equal(t, 2, testutil.CollectAndCount(env.metrics.AlertsDecoded))
	require.Equal(t, float64(datagrams), testutil.ToFloat64(env.metrics.RecordsSkipped.WithLabelValues("unknown")))
	require.Equal(t, float64(datagrams), testutil.ToFloat64(env.metrics.AlertsDecoded.WithLabelValues("unknown")))
	require.Equal(t, float64(datagrams), testutil.ToFloat64(env.metrics.AlertsDecoded.WithLabelValues("failure")))
}

func TestUDPServerStopTwice(t *testing.T) {
	env := newTestEnv(t)
	sub := env.hub.Subscribe()

	require.NoError(t, env.udp.Start())
	require.Equal(t, events.TypeStart, nextEvent(t, sub).Type)

	require.NoError(t, env.udp.Stop())
	require.Equal(t, events.TypeClose, nextEvent(t, sub).Type)

	require.NoError(t, env.udp.Stop())
	select {
	case e := <-sub.C:
		t.Fatalf("unexpected event after second stop: %s", e.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUDPServerStopBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.udp.Stop())
}

func TestUDPServerBindError(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Server.UDPPort = 70000

	err := env.udp.Start()
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to resolve UDP address")
}
