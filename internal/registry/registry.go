// Package registry builds the block table shared by every session. It maps
// upstream block names and state ids to the raw ids the downstream client
// uses, and produces the block definitions announced at login.
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
)

//go:embed blocks.json
var defaultBlocks []byte

// Block is one entry of a minecraft-data style blocks.json.
type Block struct {
	ID          int32    `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Hardness    *float64 `json:"hardness"`
	MinStateID  int32    `json:"minStateId"`
	MaxStateID  int32    `json:"maxStateId"`
	Diggable    bool     `json:"diggable"`
	BoundingBox string   `json:"boundingBox"`
}

// BlockOptions holds client physics flags.
type BlockOptions struct {
	Solid bool `json:"solid"`
}

// BlockDef is the downstream definition of a block.
type BlockDef struct {
	RawID       int32        `json:"rawid"`
	ID          string       `json:"id"`
	Texture     []string     `json:"texture"`
	Options     BlockOptions `json:"options"`
	Hardness    int          `json:"hardness"`
	MiningTime  int          `json:"miningtime"`
	Tool        string       `json:"tool"`
	Type        int          `json:"type"`
	Unbreakable bool         `json:"unbreakable"`
}

// Registry is immutable once built and safe for concurrent reads.
type Registry struct {
	defs    map[string]BlockDef
	byState []int32
	names   []string
}

// Load reads a blocks file, or the embedded table when path is empty.
func Load(path string) (*Registry, error) {
	data := defaultBlocks
	source := "embedded"

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read blocks file %s: %w", path, err)
		}
		data = b
		source = path
	}

	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load block registry from %s: %w", source, err)
	}

	log.Info().
		Str("source", source).
		Int("blocks", len(r.defs)).
		Int("states", len(r.byState)).
		Msg("block registry loaded")

	return r, nil
}

// Parse builds a registry from blocks.json content.
func Parse(data []byte) (*Registry, error) {
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("failed to parse blocks: %w", err)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no blocks defined")
	}

	var maxState int32
	for _, b := range blocks {
		if b.MinStateID < 0 || b.MaxStateID < b.MinStateID {
			return nil, fmt.Errorf("block %s has invalid state range %d..%d", b.Name, b.MinStateID, b.MaxStateID)
		}
		if b.MaxStateID > maxState {
			maxState = b.MaxStateID
		}
	}

	r := &Registry{
		defs:    make(map[string]BlockDef, len(blocks)),
		byState: make([]int32, maxState+1),
	}

	for _, b := range blocks {
		r.defs[b.Name] = BlockDef{
			RawID:      b.ID,
			ID:         b.Name,
			Texture:    []string{"block/" + b.Name},
			Options:    BlockOptions{Solid: b.BoundingBox != "empty"},
			Hardness:   1,
			MiningTime: 0,
			Tool:       "pickaxe",
			Type:       0,
			// The client reads this flag inverted; it is copied as-is from diggable.
			Unbreakable: b.Diggable,
		}
		for s := b.MinStateID; s <= b.MaxStateID; s++ {
			r.byState[s] = b.ID
		}
	}

	delete(r.defs, "air")

	r.names = make([]string, 0, len(r.defs))
	for name := range r.defs {
		r.names = append(r.names, name)
	}
	sort.Slice(r.names, func(i, j int) bool {
		return r.defs[r.names[i]].RawID < r.defs[r.names[j]].RawID
	})

	return r, nil
}

// RawID returns the downstream id for a block name, 0 when unknown.
func (r *Registry) RawID(name string) int32 {
	if def, ok := r.defs[name]; ok {
		return def.RawID
	}
	return 0
}

// StateRawID returns the downstream id of the block owning a state id,
// 0 when the state is unknown.
func (r *Registry) StateRawID(state int32) int32 {
	if state < 0 || int(state) >= len(r.byState) {
		return 0
	}
	return r.byState[state]
}

// Lookup returns the definition for a block name.
func (r *Registry) Lookup(name string) (BlockDef, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Definitions returns a copy of every block definition keyed by name.
func (r *Registry) Definitions() map[string]BlockDef {
	out := make(map[string]BlockDef, len(r.defs))
	for k, v := range r.defs {
		out[k] = v
	}
	return out
}

// Names returns the block names ordered by raw id.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of defined blocks.
func (r *Registry) Len() int {
	return len(r.defs)
}

// StateCount returns the number of known state ids.
func (r *Registry) StateCount() int {
	return len(r.byState)
}
