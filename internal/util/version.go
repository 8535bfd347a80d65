package util

// Build identity, overridden at link time with -ldflags "-X".
var (
	AppName    = "voxelcraft-proxy"
	AppVersion = "1.0.0"
)
