package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandDecodeDefaults(t *testing.T) {
	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(`{"action":"ping"}`), &cmd))

	assert.Equal(t, "ping", cmd.Action)
	assert.Nil(t, cmd.Target)
	require.NotNil(t, cmd.Params)
	assert.Equal(t, 0, cmd.Params.Len())
	assert.NoError(t, cmd.Validate())
}

func TestCommandDecodeFull(t *testing.T) {
	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(`{"action":"scan_inventory","target":"octocat","params":{"limit":5}}`), &cmd))

	assert.Equal(t, "octocat", cmd.TargetString())
	limit, ok := cmd.Params.Int("limit")
	assert.True(t, ok)
	assert.Equal(t, int64(5), limit)
}

func TestCommandDecodeRejectsNonObjectParams(t *testing.T) {
	var cmd Command
	assert.Error(t, json.Unmarshal([]byte(`{"action":"x","params":[1,2]}`), &cmd))
}

func TestCommandValidate(t *testing.T) {
	assert.Error(t, Command{}.Validate())
	assert.Error(t, Command{Action: "   "}.Validate())
	assert.NoError(t, Command{Action: "ping"}.Validate())
}

func TestEnvelopeMarshal(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want string
	}{
		{
			name: "success with data",
			env:  Success(Object(MapOf("pong", true))),
			want: `{"status":"success","data":{"pong":true}}`,
		},
		{
			name: "success with null data keeps the field",
			env:  Success(Null()),
			want: `{"status":"success","data":null}`,
		},
		{
			name: "ignored",
			env:  NotFound("unknown_action"),
			want: `{"status":"ignored","message":"Command 'unknown_action' not found."}`,
		},
		{
			name: "error drops data",
			env:  Envelope{Status: StatusError, Data: String("leak"), Message: "boom"},
			want: `{"status":"error","message":"boom"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := json.Marshal(tt.env)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestEnvelopeMarshalRejectsUnknownStatus(t *testing.T) {
	_, err := json.Marshal(Envelope{Status: "maybe"})
	assert.Error(t, err)
}

func TestEnvelopeUnmarshal(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"status":"success","data":{"pong":true}}`), &env))
	assert.Equal(t, StatusSuccess, env.Status)
	assert.True(t, Equal(Object(MapOf("pong", true)), env.Data))

	assert.Error(t, json.Unmarshal([]byte(`{"status":"done"}`), &env))
}

func TestHandlerError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewHandlerError("upstream unavailable", cause)

	assert.Equal(t, "upstream unavailable: dial tcp: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	var he *HandlerError
	require.ErrorAs(t, error(err), &he)
	assert.Equal(t, "upstream unavailable", he.Public)
}
