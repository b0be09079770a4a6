package protocol

import "errors"

// Decode errors. Each aborts decoding of the whole datagram.
var (
	ErrTruncatedRecord      = errors.New("truncated record")
	ErrInvalidRecordLength  = errors.New("invalid record length")
	ErrUnsupportedValueKind = errors.New("unsupported value kind")
	ErrMalformedString      = errors.New("malformed string part")
	ErrMalformedNumber      = errors.New("malformed number part")
	ErrMalformedValues      = errors.New("malformed values part")
)

// ErrorKind returns a short label for a decode error, for metrics and logs
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTruncatedRecord):
		return "truncated_record"
	case errors.Is(err, ErrInvalidRecordLength):
		return "invalid_record_length"
	case errors.Is(err, ErrUnsupportedValueKind):
		return "unsupported_value_kind"
	case errors.Is(err, ErrMalformedString):
		return "malformed_string"
	case errors.Is(err, ErrMalformedNumber):
		return "malformed_number"
	case errors.Is(err, ErrMalformedValues):
		return "malformed_values"
	default:
		return "other"
	}
}
