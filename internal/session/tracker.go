package session

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/messages"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/protocol"
)

const (
	// positionScale converts fixed-point relative moves to blocks.
	positionScale = 4096.0

	// livingTypeHidden is the living entity type that is tracked but never
	// shown to the client.
	livingTypeHidden = 1

	skinURL = "https://minotar.net/skin/"
)

var entityHitbox = [3]float64{0.6, 1.85, 0.6}

// TrackedEntity is the last known position of an upstream entity.
type TrackedEntity struct {
	UUID string
	Pos  [3]float64
}

// PlayerEntry is a tab-list row used to name player entities.
type PlayerEntry struct {
	Name        string
	DisplayName string
}

// Tracker keeps entity and player state for one session. It is owned by
// the session goroutine.
type Tracker struct {
	entities map[int32]*TrackedEntity
	players  map[uuid.UUID]PlayerEntry
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entities: make(map[int32]*TrackedEntity),
		players:  make(map[uuid.UUID]PlayerEntry),
	}
}

// UpdatePlayers applies a player info packet. Only add and remove
// actions change state.
func (t *Tracker) UpdatePlayers(pkt protocol.PlayerInfo) {
	switch pkt.Action {
	case protocol.PlayerInfoAdd:
		for _, p := range pkt.Players {
			t.players[p.UUID] = PlayerEntry{Name: p.Name, DisplayName: p.DisplayName}
		}
	case protocol.PlayerInfoRemove:
		for _, p := range pkt.Players {
			delete(t.players, p.UUID)
		}
	}
}

// Player returns the tab-list entry for a player uuid.
func (t *Tracker) Player(id uuid.UUID) (PlayerEntry, bool) {
	p, ok := t.players[id]
	return p, ok
}

// SpawnNamed tracks a player entity. An owner missing from the tab list
// gets an empty name.
func (t *Tracker) SpawnNamed(id int32, pos [3]float64, owner uuid.UUID) messages.EntityCreate {
	key := entityKey(id)
	t.entities[id] = &TrackedEntity{UUID: key, Pos: pos}

	data := baseEntityData(pos)
	data.Texture = skinURL + owner.String()
	data.Name = t.players[owner].Name
	data.Nametag = true

	return messages.EntityCreate{UUID: key, Data: messages.NewBlob(data)}
}

// SpawnLiving tracks a mob. The returned bool is false for entity types
// the client does not render.
func (t *Tracker) SpawnLiving(id int32, entityType int32, pos [3]float64) (messages.EntityCreate, bool) {
	key := entityKey(id)
	t.entities[id] = &TrackedEntity{UUID: key, Pos: pos}

	if entityType == livingTypeHidden {
		return messages.EntityCreate{}, false
	}

	data := baseEntityData(pos)
	data.Texture = "entity/alex"
	data.Name = "Undefined"
	data.Nametag = false

	return messages.EntityCreate{UUID: key, Data: messages.NewBlob(data)}, true
}

// ApplyRelativeMove shifts a tracked entity by fixed-point deltas.
func (t *Tracker) ApplyRelativeMove(id int32, dx, dy, dz int16) (messages.EntityMove, bool) {
	ent, ok := t.entities[id]
	if !ok {
		return messages.EntityMove{}, false
	}
	ent.Pos[0] += float64(dx) / positionScale
	ent.Pos[1] += float64(dy) / positionScale
	ent.Pos[2] += float64(dz) / positionScale
	return moveOf(ent), true
}

// ApplyTeleport sets a tracked entity's absolute position.
func (t *Tracker) ApplyTeleport(id int32, pos [3]float64) (messages.EntityMove, bool) {
	ent, ok := t.entities[id]
	if !ok {
		return messages.EntityMove{}, false
	}
	ent.Pos = pos
	return moveOf(ent), true
}

// Destroy forgets entities. One removal is produced per id, tracked or not.
func (t *Tracker) Destroy(ids []int32) []messages.EntityRemove {
	out := make([]messages.EntityRemove, 0, len(ids))
	for _, id := range ids {
		delete(t.entities, id)
		out = append(out, messages.EntityRemove{UUID: entityKey(id)})
	}
	return out
}

// Entity returns a tracked entity.
func (t *Tracker) Entity(id int32) (TrackedEntity, bool) {
	ent, ok := t.entities[id]
	if !ok {
		return TrackedEntity{}, false
	}
	return *ent, true
}

// Len returns the number of tracked entities.
func (t *Tracker) Len() int {
	return len(t.entities)
}

func entityKey(id int32) string {
	return strconv.FormatInt(int64(id), 10)
}

func baseEntityData(pos [3]float64) messages.EntityData {
	return messages.EntityData{
		Position:  pos,
		Health:    20,
		MaxHealth: 20,
		Model:     "player",
		Hitbox:    entityHitbox,
		Armor:     messages.EmptyInventory(0),
	}
}

func moveOf(ent *TrackedEntity) messages.EntityMove {
	return messages.EntityMove{
		UUID: ent.UUID,
		X:    ent.Pos[0],
		Y:    ent.Pos[1],
		Z:    ent.Pos[2],
	}
}
