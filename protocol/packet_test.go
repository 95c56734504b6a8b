package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	packet, err := Decode([]byte(`{"type": 18, "factory": "f1", "amount": 12, "all": false}`))
	require.NoError(t, err)

	assert.Equal(t, FACTORY_DEPOSIT, packet.Type)
	assert.False(t, packet.Payload.Has("type"))

	id, err := packet.Payload.String("factory")
	require.NoError(t, err)
	assert.Equal(t, "f1", id)

	amount, err := packet.Payload.Int("amount")
	require.NoError(t, err)
	assert.EqualValues(t, 12, amount)
}

func TestDecode_Malformed(t *testing.T) {
	for _, frame := range []string{
		``,
		`null`,
		`[1, 2]`,
		`{"factory": "f1"}`,
		`{"type": "1"}`,
		`{"type": 1.5}`,
	} {
		_, err := Decode([]byte(frame))
		assert.True(t, errors.Is(err, ErrMalformed), "frame %q", frame)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	packet, err := Decode([]byte(`{"type": 999}`))
	require.NoError(t, err)
	assert.False(t, packet.Type.Known())
	assert.Equal(t, "UNKNOWN(999)", packet.Type.String())
}

func TestEncode(t *testing.T) {
	payload := Payload{"loggedIn": false}
	frame, err := Encode(AUTH_RESPONSE, payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": 2, "loggedIn": false}`, string(frame))
	// The caller's payload is left untouched.
	assert.False(t, payload.Has("type"))
}

func TestPayload_Accessors(t *testing.T) {
	p := Payload{
		"name":     "Lab",
		"fraction": 1.5,
		"count":    3,
		"flag":     true,
		"nothing":  nil,
		"location": map[string]interface{}{"latitude": 52.1},
	}

	require.NoError(t, p.Require("name", "count"))

	err := p.Require("name", "nothing")
	var fieldErr *FieldError
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "nothing", fieldErr.Field)
	assert.True(t, errors.Is(err, ErrMalformed))

	_, err = p.Int("fraction")
	assert.Error(t, err)
	_, err = p.String("count")
	assert.Error(t, err)

	n, err := p.Int("count")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	assert.True(t, p.OptBool("flag"))
	assert.False(t, p.OptBool("missing"))
	assert.Equal(t, "", p.OptString("count"))

	loc, err := p.Object("location")
	require.NoError(t, err)
	lat, err := loc.Float("latitude")
	require.NoError(t, err)
	assert.Equal(t, 52.1, lat)
}
