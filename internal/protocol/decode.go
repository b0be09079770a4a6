package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ParseHeader parses the 4-byte record header at the start of data
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header needs %d bytes, %d left: %w", HeaderSize, len(data), ErrTruncatedRecord)
	}

	return Header{
		Type:   RecordType(binary.BigEndian.Uint16(data[0:2])),
		Length: binary.BigEndian.Uint16(data[2:4]),
	}, nil
}

// Walk splits buf into records and decodes every record with a known type.
// Records of unknown type are skipped by their declared length and reported
// in the second return value. Any error invalidates the whole buffer.
func Walk(buf []byte) ([]Field, []SkippedRecord, error) {
	var (
		fields  []Field
		skipped []SkippedRecord
	)

	offset := 0
	for offset < len(buf) {
		header, err := ParseHeader(buf[offset:])
		if err != nil {
			return nil, nil, fmt.Errorf("record at offset %d: %w", offset, err)
		}

		// Lengths are sender-controlled: check them before slicing
		if header.Length < HeaderSize {
			return nil, nil, fmt.Errorf("record %s at offset %d declares length %d: %w",
				header.Type, offset, header.Length, ErrInvalidRecordLength)
		}
		if int(header.Length) > len(buf)-offset {
			return nil, nil, fmt.Errorf("record %s at offset %d declares length %d, %d bytes left: %w",
				header.Type, offset, header.Length, len(buf)-offset, ErrTruncatedRecord)
		}

		record := buf[offset : offset+int(header.Length)]
		field, ok, err := decodeField(header.Type, record)
		if err != nil {
			return nil, nil, fmt.Errorf("record %s at offset %d: %w", header.Type, offset, err)
		}
		if ok {
			fields = append(fields, field)
		} else {
			skipped = append(skipped, SkippedRecord{Offset: offset, Type: header.Type, Length: header.Length})
		}

		offset += int(header.Length)
	}

	return fields, skipped, nil
}

// Decode decodes one datagram into its measurements and alerts.
// On error no partial result is returned.
func Decode(buf []byte) (*Packet, error) {
	fields, skipped, err := Walk(buf)
	if err != nil {
		return nil, err
	}

	acc := newAccumulator()
	for _, f := range fields {
		acc.apply(f)
	}

	return &Packet{
		Measurements: acc.measurements,
		Alerts:       acc.alerts,
		Skipped:      skipped,
	}, nil
}

// decodeField decodes a record with its header still attached.
// It reports false for record types without a decoder.
func decodeField(t RecordType, record []byte) (Field, bool, error) {
	switch t {
	case TypeHost, TypePlugin, TypePluginInstance, TypeType, TypeTypeInstance, TypeMessage:
		text, err := decodeString(record)
		if err != nil {
			return Field{}, true, err
		}
		return Field{Type: t, Kind: FieldString, Text: text}, true, nil

	case TypeTime, TypeInterval, TypeTimeHR, TypeIntervalHR, TypeSeverity:
		n, err := decodeNumber(record)
		if err != nil {
			return Field{}, true, err
		}
		return Field{Type: t, Kind: FieldNumber, Number: n}, true, nil

	case TypeValues:
		values, err := decodeValues(record)
		if err != nil {
			return Field{}, true, err
		}
		return Field{Type: t, Kind: FieldValues, Values: values}, true, nil

	default:
		return Field{}, false, nil
	}
}

// decodeString decodes a null-terminated string part.
// The declared length counts the terminator, which is dropped.
// Bytes that do not form valid UTF-8 are replaced with U+FFFD so the
// decoded text matches what its JSON encoding carries.
func decodeString(record []byte) (string, error) {
	payload := record[HeaderSize:]
	if len(payload) == 0 {
		return "", fmt.Errorf("empty payload: %w", ErrMalformedString)
	}
	return strings.ToValidUTF8(string(payload[:len(payload)-1]), "\uFFFD"), nil
}

// decodeNumber decodes a big-endian 64-bit number part
func decodeNumber(record []byte) (Number, error) {
	payload := record[HeaderSize:]
	if len(payload) < numberSize {
		return Number{}, fmt.Errorf("payload is %d bytes, need %d: %w", len(payload), numberSize, ErrMalformedNumber)
	}
	return readUint64(payload), nil
}

// decodeValues decodes a value-list part
// Layout: [Count:2][Kinds:Count][Values:8*Count]
func decodeValues(record []byte) ([]Value, error) {
	payload := record[HeaderSize:]
	if len(payload) < 2 {
		return nil, fmt.Errorf("payload is %d bytes, need a count: %w", len(payload), ErrMalformedValues)
	}

	count := int(binary.BigEndian.Uint16(payload[0:2]))
	kinds := payload[2:]
	need := count * (1 + numberSize)
	if len(kinds) < need {
		return nil, fmt.Errorf("%d values need %d bytes, got %d: %w", count, need, len(kinds), ErrMalformedValues)
	}
	data := kinds[count:]

	values := make([]Value, count)
	for i := 0; i < count; i++ {
		kind := DSKind(kinds[i])
		raw := data[i*numberSize : (i+1)*numberSize]

		switch kind {
		case DSCounter, DSAbsolute:
			n := readUint64(raw)
			values[i] = Value{Kind: kind, Number: n.Value, Raw: n.Raw}
		case DSGauge:
			// Gauges are the one little-endian field in the protocol
			bits := binary.LittleEndian.Uint64(raw)
			values[i] = Value{Kind: kind, Number: math.Float64frombits(bits), Raw: bits}
		case DSDerive:
			n := readInt64(raw)
			values[i] = Value{Kind: kind, Number: n.Value, Raw: n.Raw}
		default:
			return nil, fmt.Errorf("value %d has kind %d: %w", i, uint8(kind), ErrUnsupportedValueKind)
		}
	}

	return values, nil
}
