package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedRegistry(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int32(1), r.RawID("stone"))
	assert.Equal(t, int32(0), r.RawID("air"), "air is removed")
	assert.Equal(t, int32(0), r.RawID("no_such_block"))

	_, ok := r.Lookup("air")
	assert.False(t, ok)

	stone, ok := r.Lookup("stone")
	require.True(t, ok)
	assert.Equal(t, BlockDef{
		RawID:       1,
		ID:          "stone",
		Texture:     []string{"block/stone"},
		Options:     BlockOptions{Solid: true},
		Hardness:    1,
		Tool:        "pickaxe",
		Unbreakable: true,
	}, stone)

	water, _ := r.Lookup("water")
	assert.False(t, water.Options.Solid)
	assert.False(t, water.Unbreakable)
}

func TestStateRawID(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int32(0), r.StateRawID(0))
	assert.Equal(t, int32(8), r.StateRawID(9), "grass_block second state")
	assert.Equal(t, int32(26), r.StateRawID(40), "water level state")
	assert.Equal(t, int32(69), r.StateRawID(233))
	assert.Equal(t, int32(0), r.StateRawID(99999))
	assert.Equal(t, int32(0), r.StateRawID(-1))
}

func TestStateRawIDCoversFullPalette(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)

	cases := map[int32]string{
		246:  "sandstone",
		1342: "grass",
		3354: "diamond_ore",
		3921: "snow",
		3928: "snow",
		4495: "stone_bricks",
		9474: "kelp",
	}
	for state, name := range cases {
		def, ok := r.Lookup(name)
		require.True(t, ok, name)
		assert.NotZero(t, def.RawID, name)
		assert.Equal(t, def.RawID, r.StateRawID(state), "state %d", state)
	}

	assert.NotZero(t, r.StateRawID(3410), "sign states")
	assert.Equal(t, r.RawID("quartz_bricks"), r.StateRawID(int32(r.StateCount()-1)))
	assert.Equal(t, 762, r.Len())
}

func TestDefinitionsIsACopy(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)

	defs := r.Definitions()
	delete(defs, "stone")
	assert.Equal(t, int32(1), r.RawID("stone"))
	assert.Equal(t, len(defs)+1, r.Len())

	data, err := json.Marshal(r.Definitions())
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"air"`)
	assert.Contains(t, string(data), `"miningtime":0`)
}

func TestNamesOrderedByRawID(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)

	names := r.Names()
	require.NotEmpty(t, names)
	assert.Equal(t, "stone", names[0])
	assert.Equal(t, "quartz_bricks", names[len(names)-1])
}

func TestLoadOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.json")
	body := `[{"id":0,"name":"air","minStateId":0,"maxStateId":0,"boundingBox":"empty"},
	          {"id":5,"name":"custom","minStateId":1,"maxStateId":4,"diggable":true,"boundingBox":"block"}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int32(5), r.StateRawID(3))
	assert.Equal(t, 5, r.StateCount())
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse([]byte(`[]`))
	assert.Error(t, err)

	_, err = Parse([]byte(`[{"id":1,"name":"x","minStateId":5,"maxStateId":2}]`))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
