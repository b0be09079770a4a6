package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "host header",
			data: []byte{
				0x00, 0x00, // Type: host
				0x00, 0x0A, // Length: 10
			},
			expected: Header{Type: TypeHost, Length: 10},
		},
		{
			name: "severity header with trailing payload",
			data: []byte{
				0x01, 0x01, // Type: severity
				0x00, 0x0C, // Length: 12
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02,
			},
			expected: Header{Type: TypeSeverity, Length: 12},
		},
		{
			name:        "header too short",
			data:        []byte{0x00, 0x06, 0x00},
			expectError: true,
			errorMsg:    "truncated record",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "truncated record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			} else if result != tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestDecodeString(t *testing.T) {
	tests := []struct {
		name        string
		record      []byte
		expected    string
		expectError error
	}{
		{
			name:     "host name",
			record:   stringPart(TypeHost, "web-01.example.com"),
			expected: "web-01.example.com",
		},
		{
			name:     "empty string is only a terminator",
			record:   stringPart(TypePluginInstance, ""),
			expected: "",
		},
		{
			name:     "final byte dropped even when not null",
			record:   part(TypePlugin, []byte("cpux")),
			expected: "cpu",
		},
		{
			name:        "no payload",
			record:      part(TypeHost, nil),
			expectError: ErrMalformedString,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := decodeString(tt.record)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("Expected error %v, got %v", tt.expectError, err)
				}
				return
			}

			if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			} else if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestDecodeNumber(t *testing.T) {
	tests := []struct {
		name        string
		record      []byte
		expectRaw   uint64
		expectValue float64
		expectExact bool
		expectError error
	}{
		{
			name:        "unix time",
			record:      numberPart(TypeTime, 1700000000),
			expectRaw:   1700000000,
			expectValue: 1700000000,
			expectExact: true,
		},
		{
			name:        "largest exact high word",
			record:      numberPart(TypeTime, 0x000FFFFF_FFFFFFFF),
			expectRaw:   0x000FFFFF_FFFFFFFF,
			expectValue: 4503599627370495,
			expectExact: true,
		},
		{
			name:        "high word at boundary",
			record:      numberPart(TypeTimeHR, 0x00100000_00000000),
			expectRaw:   0x00100000_00000000,
			expectValue: 4503599627370496,
			expectExact: false,
		},
		{
			name:        "payload too short",
			record:      part(TypeInterval, []byte{0, 0, 0, 10}),
			expectError: ErrMalformedNumber,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := decodeNumber(tt.record)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("Expected error %v, got %v", tt.expectError, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if result.Raw != tt.expectRaw {
				t.Errorf("Expected raw %d, got %d", tt.expectRaw, result.Raw)
			}
			if result.Value != tt.expectValue {
				t.Errorf("Expected value %v, got %v", tt.expectValue, result.Value)
			}
			if result.Exact != tt.expectExact {
				t.Errorf("Expected exact=%v, got %v", tt.expectExact, result.Exact)
			}
		})
	}
}

func TestRecordTypeString(t *testing.T) {
	tests := []struct {
		recordType RecordType
		expected   string
	}{
		{TypeHost, "host"},
		{TypeValues, "values"},
		{TypeTimeHR, "time_hr"},
		{TypeSeverity, "severity"},
		{RecordType(0x0200), "unknown(0x0200)"},
	}

	for _, tt := range tests {
		if got := tt.recordType.String(); got != tt.expected {
			t.Errorf("RecordType(0x%04x).String() = %q, expected %q", uint16(tt.recordType), got, tt.expected)
		}
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, ""},
		{ErrTruncatedRecord, "truncated_record"},
		{ErrInvalidRecordLength, "invalid_record_length"},
		{ErrUnsupportedValueKind, "unsupported_value_kind"},
		{ErrMalformedString, "malformed_string"},
		{ErrMalformedNumber, "malformed_number"},
		{ErrMalformedValues, "malformed_values"},
		{errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.expected {
			t.Errorf("ErrorKind(%v) = %q, expected %q", tt.err, got, tt.expected)
		}
	}
}

func TestStringMethods(t *testing.T) {
	header := Header{Type: TypeValues, Length: 42}
	if s := header.String(); !strings.Contains(s, "values") || !strings.Contains(s, "42") {
		t.Errorf("Header string missing fields: %s", s)
	}

	if s := SeverityWarning.String(); s != "warning" {
		t.Errorf("Expected warning, got %s", s)
	}
	if s := Severity(9).String(); s != "unknown(9)" {
		t.Errorf("Expected unknown(9), got %s", s)
	}

	m := Measurement{Host: "h", Plugin: "cpu", PluginInstance: "0", Type: "cpu", TypeInstance: "idle"}
	if id := m.Identifier(); id != "h/cpu-0/cpu-idle" {
		t.Errorf("Unexpected identifier %s", id)
	}
	m = Measurement{Host: "h", Plugin: "load", Type: "load"}
	if id := m.Identifier(); id != "h/load/load" {
		t.Errorf("Unexpected identifier %s", id)
	}
}
