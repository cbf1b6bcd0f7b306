package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeDecodesPayload(t *testing.T) {
	raw := `{"architecture":"Edge","data_size":12,"data_source":"data/seq_align/small","algorithm":"SW","data":{"b":[1,2],"a":"x"},"iterations":3}`

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	require.Equal(t, KindPayload, env.Kind())
	assert.Equal(t, ArchEdge, env.Payload.Architecture)
	assert.Equal(t, int64(12), env.Payload.DataSize)
	assert.Equal(t, `{"b":[1,2],"a":"x"}`, string(env.Payload.Data))

	out, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestEnvelopeDecodesStats(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"acc_transtime":1.5,"acc_proctime":0.25,"device_id":"iot-1"}`), &env))
	require.Equal(t, KindStats, env.Kind())
	assert.Equal(t, StatsReport{AccTransmission: 1.5, AccProcessing: 0.25, DeviceID: "iot-1"}, *env.Stats)
}

func TestEnvelopeRejectsAmbiguousInput(t *testing.T) {
	for _, raw := range []string{
		`{}`,
		`{"data":null,"acc_transtime":1}`,
		`[1,2]`,
	} {
		var env Envelope
		assert.ErrorIs(t, json.Unmarshal([]byte(raw), &env), ErrMalformedEnvelope, raw)
	}

	_, err := json.Marshal(Envelope{})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestEnvelopeNormalisesArchitecture(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"architecture":"edge","algorithm":"SW","data":"x"}`), &env))
	assert.Equal(t, ArchEdge, env.Payload.Architecture)
	assert.NoError(t, env.Validate())

	for _, raw := range []string{
		`{"architecture":"fog","data":"x"}`,
		`{"data":"x"}`,
	} {
		assert.ErrorIs(t, json.Unmarshal([]byte(raw), &env), ErrMalformedEnvelope, raw)
	}

	bad := NewPayloadEnvelope(Payload{Architecture: "edge", Data: json.RawMessage(`1`)})
	assert.ErrorIs(t, bad.Validate(), ErrMalformedEnvelope)
	_, err := json.Marshal(bad)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestParseArchitecture(t *testing.T) {
	a, err := ParseArchitecture("cloud")
	require.NoError(t, err)
	assert.Equal(t, ArchCloud, a)

	_, err = ParseArchitecture("fog")
	assert.Error(t, err)
}
