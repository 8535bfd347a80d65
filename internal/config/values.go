package config

import "regexp"

const (
	// ServerVersion is the proxy release advertised in logs and the API.
	ServerVersion = "0.2.0-beta.10.1"

	// ServerProtocol is the downstream protocol number sent in LoginRequest.
	ServerProtocol = 2

	// Software is the software tag sent in LoginRequest.
	Software = "VoxelCraft"
)

// InvalidNickname matches any character not allowed in a player name.
var InvalidNickname = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// ValidNickname reports whether name can be used as an upstream username.
func ValidNickname(name string) bool {
	return name != "" && len(name) <= 16 && !InvalidNickname.MatchString(name)
}
