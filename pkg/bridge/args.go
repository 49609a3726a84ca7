package bridge

import (
	"encoding/json"
	"strconv"

	vberrors "github.com/odvcencio/visitbridge/pkg/errors"
)

// Args are the positional arguments of an inbound call, still JSON-encoded.
type Args []json.RawMessage

// NewArgs encodes values into Args. It is mostly useful to hosts and tests
// that synthesize inbound messages.
func NewArgs(values ...any) (Args, error) {
	args := make(Args, 0, len(values))
	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, vberrors.Wrap(err, vberrors.ErrCodeBridgeEncode, "failed to encode argument").
				WithContext("index", i)
		}
		args = append(args, raw)
	}
	return args, nil
}

// MustArgs is NewArgs for values known to be encodable.
func MustArgs(values ...any) Args {
	args, err := NewArgs(values...)
	if err != nil {
		panic(err)
	}
	return args
}

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// String decodes argument i as a string. A JSON null or a missing argument
// decodes to the empty string; numbers are rendered in decimal.
func (a Args) String(i int) (string, error) {
	raw, ok := a.at(i)
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", a.decodeError(i, "string")
}

// Bool decodes argument i as a boolean. Missing arguments are false.
func (a Args) Bool(i int) (bool, error) {
	raw, ok := a.at(i)
	if !ok {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, perr := strconv.ParseBool(s); perr == nil {
			return parsed, nil
		}
	}
	return false, a.decodeError(i, "bool")
}

// Int decodes argument i as an integer. Missing arguments are an error.
func (a Args) Int(i int) (int, error) {
	raw, ok := a.at(i)
	if !ok {
		return 0, a.decodeError(i, "int")
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, perr := strconv.Atoi(s); perr == nil {
			return parsed, nil
		}
	}
	return 0, a.decodeError(i, "int")
}

func (a Args) at(i int) (json.RawMessage, bool) {
	if i < 0 || i >= len(a) {
		return nil, false
	}
	raw := a[i]
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

func (a Args) decodeError(i int, want string) error {
	var got string
	if i >= 0 && i < len(a) {
		got = string(a[i])
	}
	return vberrors.Newf(vberrors.ErrCodeBridgeDecode, "argument %d is not a %s", i, want).
		WithContext("value", got)
}
