package messages

import "github.com/VoxelSrv/VoxelCraftProxy/internal/registry"

// LoginRequest opens the downstream handshake.
type LoginRequest struct {
	Name          string `json:"name"`
	Motd          string `json:"motd"`
	Protocol      int    `json:"protocol"`
	MaxPlayers    int    `json:"maxplayers"`
	NumberPlayers int    `json:"numberplayers"`
	Software      string `json:"software"`
}

// Inventory is an item container. The proxy always sends it empty.
type Inventory struct {
	Items    map[string]any `json:"items"`
	Selected int            `json:"selected"`
	Size     int            `json:"size"`
}

// EmptyInventory returns a container with no items.
func EmptyInventory(size int) Inventory {
	return Inventory{Items: map[string]any{}, Size: size}
}

// LoginSuccess places the player and ships the static world definitions.
type LoginSuccess struct {
	XPos             float64                            `json:"xPos"`
	YPos             float64                            `json:"yPos"`
	ZPos             float64                            `json:"zPos"`
	Inventory        Blob[Inventory]                    `json:"inventory"`
	BlocksDef        Blob[map[string]registry.BlockDef] `json:"blocksDef"`
	ItemsDef         Blob[map[string]any]               `json:"itemsDef"`
	Armor            Blob[Inventory]                    `json:"armor"`
	AllowCheats      bool                               `json:"allowCheats"`
	AllowCustomSkins bool                               `json:"allowCustomSkins"`
	Movement         Blob[Movement]                     `json:"movement"`
}

// PlayerHealth sets the health bar.
type PlayerHealth struct {
	Value float64 `json:"value"`
}

// PlayerEntity tells the client which entity it controls.
type PlayerEntity struct {
	UUID string `json:"uuid"`
}

// ChatPart is one colored run of chat text.
type ChatPart struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

// ChatMessage is a line of chat.
type ChatMessage struct {
	Message []ChatPart `json:"message"`
}

// EntityData describes a spawned entity.
type EntityData struct {
	Position  [3]float64 `json:"position"`
	Rotation  float64    `json:"rotation"`
	Pitch     float64    `json:"pitch"`
	Health    int        `json:"health"`
	MaxHealth int        `json:"maxHealth"`
	Texture   string     `json:"texture"`
	Name      string     `json:"name"`
	Nametag   bool       `json:"nametag"`
	Model     string     `json:"model"`
	Hitbox    [3]float64 `json:"hitbox"`
	Armor     Inventory  `json:"armor"`
}

// EntityCreate spawns an entity.
type EntityCreate struct {
	UUID string           `json:"uuid"`
	Data Blob[EntityData] `json:"data"`
}

// EntityMove sets an entity's absolute position.
type EntityMove struct {
	UUID     string  `json:"uuid"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
	Pitch    float64 `json:"pitch"`
}

// EntityRemove despawns an entity.
type EntityRemove struct {
	UUID string `json:"uuid"`
}

// WorldBlockUpdate changes one block.
type WorldBlockUpdate struct {
	X  int32 `json:"x"`
	Y  int32 `json:"y"`
	Z  int32 `json:"z"`
	ID int32 `json:"id"`
}

// WorldChunkLoad delivers a 32x256x32 column. Data is base64 on the wire.
type WorldChunkLoad struct {
	X          int32  `json:"x"`
	Y          int32  `json:"y"`
	Z          int32  `json:"z"`
	Height     int    `json:"height"`
	Compressed bool   `json:"compressed"`
	Data       []byte `json:"data"`
}

// PlayerTeleport moves the client's player.
type PlayerTeleport struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PlayerKick disconnects the client with a reason.
type PlayerKick struct {
	Reason string `json:"reason"`
}
