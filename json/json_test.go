package json

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	Path    string `json:"path"`
	Source  string `json:"source" default:"redis"`
	Attempt int    `json:"attempt" default:"1"`
}

func TestUnmarshalAppliesDefaultsForMissingFields(t *testing.T) {
	var msg testMessage
	require.NoError(t, Unmarshal([]byte(`{"path":"groupimages/originals/a.jpg"}`), &msg))

	assert.Equal(t, "groupimages/originals/a.jpg", msg.Path)
	assert.Equal(t, "redis", msg.Source)
	assert.Equal(t, 1, msg.Attempt)
}

func TestUnmarshalPreservesExplicitValues(t *testing.T) {
	var msg testMessage
	require.NoError(t, Unmarshal([]byte(`{"path":"p","source":"scan","attempt":0}`), &msg))

	assert.Equal(t, "scan", msg.Source)
	assert.Equal(t, 0, msg.Attempt)
}

func TestUnmarshalStrictRejectsUnknownFields(t *testing.T) {
	var msg testMessage
	err := UnmarshalStrict([]byte(`{"path":"p","bucket":"x"}`), &msg)
	require.Error(t, err)

	require.NoError(t, UnmarshalStrict([]byte(`{"path":"p"}`), &msg))
	assert.Equal(t, "redis", msg.Source)
}

func TestDecoderStream(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"path":"a"} {"path":"b","attempt":3}`))

	var first, second testMessage
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))

	assert.Equal(t, "a", first.Path)
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, "b", second.Path)
	assert.Equal(t, 3, second.Attempt)
}

func TestEncoderWritesCompatibleJSON(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	require.NoError(t, enc.Encode(map[string]string{"status": "<ok>"}))
	assert.Equal(t, "{\"status\":\"<ok>\"}\n", buf.String())

	data, err := Marshal(testMessage{Path: "p", Source: "scan", Attempt: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"p","source":"scan","attempt":2}`, string(data))
}
