package messages

// LoginResponse answers LoginRequest.
type LoginResponse struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Protocol int    `json:"protocol"`
	Mobile   bool   `json:"mobile"`
	UUID     string `json:"uuid"`
	Secret   string `json:"secret"`
}

type ActionMessage struct {
	Message string `json:"message"`
}

type ActionMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type ActionLook struct {
	Rotation float64 `json:"rotation"`
	Pitch    float64 `json:"pitch"`
}

type ActionMoveLook struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
	Pitch    float64 `json:"pitch"`
}

type ActionClick struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ActionClickEntity carries the entity id as a decimal string and the
// mouse button as "left" or "right".
type ActionClickEntity struct {
	UUID string  `json:"uuid"`
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

type ActionBlockBreak struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

type ActionBlockPlace struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

type ActionInventoryClick struct {
	Slot      int    `json:"slot"`
	Type      string `json:"type"`
	Inventory string `json:"inventory"`
}
