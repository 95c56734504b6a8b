package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is matched by every error that describes an unusable packet or
// a payload missing a required field.
var ErrMalformed = errors.New("malformed packet")

type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrMalformed
}

// Payload is the flat JSON object carried by a packet.
type Payload map[string]interface{}

type Packet struct {
	Type    Type
	Payload Payload
}

// Decode parses one wire frame. The frame must be a JSON object with a
// numeric "type" member; the remaining members form the payload.
func Decode(data []byte) (Packet, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return Packet{}, fmt.Errorf("%w: frame is not an object", ErrMalformed)
	}

	tag, ok := raw["type"].(float64)
	if !ok || tag != math.Trunc(tag) {
		return Packet{}, fmt.Errorf("%w: missing numeric type", ErrMalformed)
	}
	delete(raw, "type")

	return Packet{Type: Type(tag), Payload: raw}, nil
}

// Encode serializes a packet into a wire frame.
func Encode(t Type, payload Payload) ([]byte, error) {
	frame := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		frame[k] = v
	}
	frame["type"] = int(t)
	return json.Marshal(frame)
}

func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Require checks that every key is present and non-null.
func (p Payload) Require(keys ...string) error {
	for _, key := range keys {
		if !p.Has(key) {
			return &FieldError{Field: key, Reason: "is required"}
		}
	}
	return nil
}

func (p Payload) String(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", &FieldError{Field: key, Reason: "is required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldError{Field: key, Reason: "must be a string"}
	}
	return s, nil
}

// OptString returns the string at key, or "" when it is absent or not a string.
func (p Payload) OptString(key string) string {
	s, _ := p[key].(string)
	return s
}

func (p Payload) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, &FieldError{Field: key, Reason: "is required"}
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, &FieldError{Field: key, Reason: "must be a number"}
		}
		return f, nil
	}
	return 0, &FieldError{Field: key, Reason: "must be a number"}
}

// Int reads an integral number. Fractional values are rejected.
func (p Payload) Int(key string) (int64, error) {
	switch n := p[key].(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	}

	f, err := p.Float(key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt64/2 {
		return 0, &FieldError{Field: key, Reason: "must be an integer"}
	}
	return int64(f), nil
}

func (p Payload) Bool(key string) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return false, &FieldError{Field: key, Reason: "is required"}
	}
	b, ok := v.(bool)
	if !ok {
		return false, &FieldError{Field: key, Reason: "must be a boolean"}
	}
	return b, nil
}

// OptBool returns false when the key is absent or not a boolean.
func (p Payload) OptBool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

func (p Payload) Object(key string) (Payload, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, &FieldError{Field: key, Reason: "is required"}
	}
	switch m := v.(type) {
	case map[string]interface{}:
		return Payload(m), nil
	case Payload:
		return m, nil
	}
	return nil, &FieldError{Field: key, Reason: "must be an object"}
}
