package protocol

import (
	"encoding/binary"
	"math"
)

// testValue is a value-list entry as it appears on the wire
type testValue struct {
	kind uint8
	raw  [8]byte
}

func counter(v uint64) testValue {
	tv := testValue{kind: uint8(DSCounter)}
	binary.BigEndian.PutUint64(tv.raw[:], v)
	return tv
}

func absolute(v uint64) testValue {
	tv := testValue{kind: uint8(DSAbsolute)}
	binary.BigEndian.PutUint64(tv.raw[:], v)
	return tv
}

func gauge(v float64) testValue {
	tv := testValue{kind: uint8(DSGauge)}
	binary.LittleEndian.PutUint64(tv.raw[:], math.Float64bits(v))
	return tv
}

func derive(v int64) testValue {
	tv := testValue{kind: uint8(DSDerive)}
	binary.BigEndian.PutUint64(tv.raw[:], uint64(v))
	return tv
}

func rawKind(kind uint8, v uint64) testValue {
	tv := testValue{kind: kind}
	binary.BigEndian.PutUint64(tv.raw[:], v)
	return tv
}

// part builds a record with the given type and payload
func part(t RecordType, payload []byte) []byte {
	data := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(data[0:], uint16(t))
	binary.BigEndian.PutUint16(data[2:], uint16(len(data)))
	copy(data[HeaderSize:], payload)
	return data
}

func stringPart(t RecordType, s string) []byte {
	return part(t, append([]byte(s), 0))
}

func numberPart(t RecordType, v uint64) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, v)
	return part(t, payload)
}

func valuesPart(values ...testValue) []byte {
	payload := make([]byte, 2, 2+len(values)*9)
	binary.BigEndian.PutUint16(payload, uint16(len(values)))
	for _, v := range values {
		payload = append(payload, v.kind)
	}
	for _, v := range values {
		payload = append(payload, v.raw[:]...)
	}
	return part(TypeValues, payload)
}

func packet(parts ...[]byte) []byte {
	var data []byte
	for _, p := range parts {
		data = append(data, p...)
	}
	return data
}
