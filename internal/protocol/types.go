package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Protocol constants for the collectd network plugin
const (
	// HeaderSize is the size of every record header: [Type:2][Length:2]
	HeaderSize = 4

	// Transport defaults used by the collectd network plugin
	DefaultPort      = 25826
	DefaultIPv4Group = "239.192.74.66"
	DefaultIPv6Group = "ff18::efc0:4a42"
	DefaultNetwork   = "udp4"

	numberSize = 8
)

// RecordType identifies the part carried by a record
type RecordType uint16

// Record types understood by the decoder
const (
	TypeHost           RecordType = 0x0000
	TypeTime           RecordType = 0x0001
	TypePlugin         RecordType = 0x0002
	TypePluginInstance RecordType = 0x0003
	TypeType           RecordType = 0x0004
	TypeTypeInstance   RecordType = 0x0005
	TypeValues         RecordType = 0x0006
	TypeInterval       RecordType = 0x0007
	TypeTimeHR         RecordType = 0x0008
	TypeIntervalHR     RecordType = 0x0009
	TypeMessage        RecordType = 0x0100
	TypeSeverity       RecordType = 0x0101
)

// String returns the collectd name of the record type
func (t RecordType) String() string {
	switch t {
	case TypeHost:
		return "host"
	case TypeTime:
		return "time"
	case TypePlugin:
		return "plugin"
	case TypePluginInstance:
		return "plugin_instance"
	case TypeType:
		return "type"
	case TypeTypeInstance:
		return "type_instance"
	case TypeValues:
		return "values"
	case TypeInterval:
		return "interval"
	case TypeTimeHR:
		return "time_hr"
	case TypeIntervalHR:
		return "interval_hr"
	case TypeMessage:
		return "message"
	case TypeSeverity:
		return "severity"
	default:
		return fmt.Sprintf("unknown(0x%04x)", uint16(t))
	}
}

// Label returns String for the known record types and "unknown" otherwise.
// The set of labels is fixed whatever arrives on the wire.
func (t RecordType) Label() string {
	if t.Known() {
		return t.String()
	}
	return "unknown"
}

// Known reports whether t is one of the record types listed above
func (t RecordType) Known() bool {
	switch t {
	case TypeHost, TypeTime, TypePlugin, TypePluginInstance, TypeType, TypeTypeInstance,
		TypeValues, TypeInterval, TypeTimeHR, TypeIntervalHR, TypeMessage, TypeSeverity:
		return true
	}
	return false
}

// MarshalText encodes the record type by name
func (t RecordType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Header is the 4-byte record header
// Layout: [Type:2][Length:2], both big-endian. Length includes the header.
type Header struct {
	Type   RecordType
	Length uint16
}

// PayloadLength returns the number of payload bytes following the header
func (h Header) PayloadLength() int {
	return int(h.Length) - HeaderSize
}

// String returns a human-readable representation of the header
func (h Header) String() string {
	return fmt.Sprintf("Header{Type:%s, Len:%d}", h.Type, h.Length)
}

// DSKind tells how the 8 bytes of a value-list entry are interpreted
type DSKind uint8

// Data source kinds
const (
	DSCounter  DSKind = 0
	DSGauge    DSKind = 1
	DSDerive   DSKind = 2
	DSAbsolute DSKind = 3
)

func (k DSKind) String() string {
	switch k {
	case DSCounter:
		return "counter"
	case DSGauge:
		return "gauge"
	case DSDerive:
		return "derive"
	case DSAbsolute:
		return "absolute"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// MarshalText encodes the kind by name
func (k DSKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Number is a decoded 64-bit number part.
// Raw is the wire integer; Value is its float reconstruction, which is exact
// only when Exact is set.
type Number struct {
	Raw   uint64
	Value float64
	Exact bool
}

// Value is one typed entry of a value list
type Value struct {
	Kind   DSKind
	Number float64 // reconstructed numeric value
	Raw    uint64  // the 8 wire bytes in the byte order of Kind
}

// Float64 returns the numeric value
func (v Value) Float64() float64 {
	return v.Number
}

// Uint64 returns the exact counter or absolute value
func (v Value) Uint64() uint64 {
	return v.Raw
}

// Int64 returns the exact derive value
func (v Value) Int64() int64 {
	return int64(v.Raw)
}

// MarshalJSON encodes the value as {"kind":..., "value":...}.
// NaN and infinite gauges are encoded as null.
func (v Value) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 48)
	b = append(b, `{"kind":`...)
	b = strconv.AppendQuote(b, v.Kind.String())
	b = append(b, `,"value":`...)
	switch {
	case math.IsNaN(v.Number) || math.IsInf(v.Number, 0):
		b = append(b, "null"...)
	case v.Kind == DSDerive:
		b = strconv.AppendInt(b, v.Int64(), 10)
	case v.Kind == DSCounter || v.Kind == DSAbsolute:
		b = strconv.AppendUint(b, v.Uint64(), 10)
	default:
		b = strconv.AppendFloat(b, v.Number, 'g', -1, 64)
	}
	b = append(b, '}')
	return b, nil
}

// FieldKind tags which member of a Field is set
type FieldKind uint8

const (
	FieldString FieldKind = iota + 1
	FieldNumber
	FieldValues
)

// Field is a decoded record part
type Field struct {
	Type   RecordType
	Kind   FieldKind
	Text   string
	Number Number
	Values []Value
}

// MarshalJSON encodes only the member selected by Kind
func (f Field) MarshalJSON() ([]byte, error) {
	type number struct {
		Raw   uint64  `json:"raw"`
		Value float64 `json:"value"`
		Exact bool    `json:"exact"`
	}
	out := struct {
		Type   RecordType `json:"type"`
		Text   *string    `json:"text,omitempty"`
		Number *number    `json:"number,omitempty"`
		Values []Value    `json:"values,omitempty"`
	}{Type: f.Type}

	switch f.Kind {
	case FieldString:
		out.Text = &f.Text
	case FieldNumber:
		out.Number = &number{Raw: f.Number.Raw, Value: f.Number.Value, Exact: f.Number.Exact}
	case FieldValues:
		out.Values = f.Values
	}
	return json.Marshal(out)
}

// Severity of a notification
type Severity uint64

// Notification severities
const (
	SeverityFailure Severity = 1
	SeverityWarning Severity = 2
	SeverityOkay    Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityFailure:
		return "failure"
	case SeverityWarning:
		return "warning"
	case SeverityOkay:
		return "okay"
	default:
		return "unknown(" + strconv.FormatUint(uint64(s), 10) + ")"
	}
}

// Label is like String but folds every unlisted severity into "unknown"
func (s Severity) Label() string {
	switch s {
	case SeverityFailure, SeverityWarning, SeverityOkay:
		return s.String()
	default:
		return "unknown"
	}
}

// Measurement is one value-list sample with the context it was sent in
type Measurement struct {
	Time           float64 `json:"time"`               // seconds since epoch
	Interval       float64 `json:"interval,omitempty"` // seconds; zero when not sent
	Host           string  `json:"host"`
	Plugin         string  `json:"plugin"`
	PluginInstance string  `json:"plugin_instance"`
	Type           string  `json:"type"`
	TypeInstance   string  `json:"type_instance"`
	Values         []Value `json:"values"`
}

// Identifier returns the collectd identifier host/plugin[-instance]/type[-instance]
func (m *Measurement) Identifier() string {
	id := m.Host + "/" + m.Plugin
	if m.PluginInstance != "" {
		id += "-" + m.PluginInstance
	}
	id += "/" + m.Type
	if m.TypeInstance != "" {
		id += "-" + m.TypeInstance
	}
	return id
}

// Clone returns a copy that shares no memory with m
func (m Measurement) Clone() Measurement {
	if m.Values != nil {
		values := make([]Value, len(m.Values))
		copy(values, m.Values)
		m.Values = values
	}
	return m
}

// Alert is a notification with the context it was sent in
type Alert struct {
	Time           float64  `json:"time"`
	Severity       Severity `json:"severity"`
	Host           string   `json:"host"`
	Plugin         string   `json:"plugin,omitempty"`
	PluginInstance string   `json:"plugin_instance,omitempty"`
	Type           string   `json:"type,omitempty"`
	TypeInstance   string   `json:"type_instance,omitempty"`
	Message        string   `json:"message"`
}

// SkippedRecord describes a record whose type has no decoder
type SkippedRecord struct {
	Offset int        `json:"offset"`
	Type   RecordType `json:"type"`
	Length uint16     `json:"length"`
}

// Packet is the result of decoding one datagram
type Packet struct {
	Measurements []Measurement   `json:"measurements"`
	Alerts       []Alert         `json:"alerts"`
	Skipped      []SkippedRecord `json:"skipped,omitempty"`
}

// String returns a short summary of the packet
func (p *Packet) String() string {
	return fmt.Sprintf("Packet{Measurements:%d, Alerts:%d, Skipped:%d}",
		len(p.Measurements), len(p.Alerts), len(p.Skipped))
}

var _ json.Marshaler = Value{}
