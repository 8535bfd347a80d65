package messages

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobEncodesAsString(t *testing.T) {
	b, err := json.Marshal(NewBlob(EmptyInventory(27)))
	require.NoError(t, err)
	assert.Equal(t, `"{\"items\":{},\"selected\":0,\"size\":27}"`, string(b))

	var back Blob[Inventory]
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, 27, back.Value.Size)
	assert.NotNil(t, back.Value.Items)
}

func TestEncodeEnvelope(t *testing.T) {
	frame, err := Encode(TypePlayerKick, PlayerKick{Reason: "Timeout!"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"PlayerKick","data":{"reason":"Timeout!"}}`, string(frame))
}

func TestDecodeAndBind(t *testing.T) {
	in, err := DecodeEnvelope([]byte(`{"type":"ActionClickEntity","data":{"uuid":"12","type":"left"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeActionClickEntity, in.Type)

	click, err := Bind[ActionClickEntity](in)
	require.NoError(t, err)
	assert.Equal(t, "12", click.UUID)
	assert.Equal(t, "left", click.Type)

	empty, err := Bind[ActionClick](Inbound{Type: TypeActionClick})
	require.NoError(t, err)
	assert.Equal(t, ActionClick{}, empty)

	_, err = Bind[ActionMove](Inbound{Type: TypeActionMove, Data: json.RawMessage(`{"x":"nope"}`)})
	assert.Error(t, err)
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"data":{}}`))
	assert.Error(t, err)
}

func TestChunkDataIsBase64(t *testing.T) {
	frame, err := Encode(TypeWorldChunkLoad, WorldChunkLoad{X: -1, Z: 2, Height: 8, Data: []byte{1, 0, 2, 0}})
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"data":"AQACAA=="`)
}

func TestLoadMovement(t *testing.T) {
	m, err := LoadMovement("")
	require.NoError(t, err)
	assert.Equal(t, DefaultMovement(), m)

	m, err = LoadMovement(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5.5, m.MaxSpeed)

	path := filepath.Join(t.TempDir(), "movement.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxSpeed: 7\nairJumps: 1\n"), 0644))
	m, err = LoadMovement(path)
	require.NoError(t, err)
	assert.Equal(t, 7.0, m.MaxSpeed)
	assert.Equal(t, 1, m.AirJumps)
	assert.Equal(t, 8.5, m.JumpImpulse)

	require.NoError(t, os.WriteFile(path, []byte("maxSpeed: [\n"), 0644))
	_, err = LoadMovement(path)
	assert.Error(t, err)
}
