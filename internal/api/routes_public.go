package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/session"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": util.AppName,
		"version": util.AppVersion,
	})
}

// handleGetServerInfo returns the listing clients see plus host facts.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	name, motd, maxPlayers := s.cfg.Listing()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"name":            name,
		"motd":            motd,
		"protocol":        session.DownstreamProtocol,
		"software":        session.Software,
		"version":         util.AppVersion,
		"players":         s.deps.Sessions.LoggedInCount(),
		"max_players":     maxPlayers,
		"sessions":        s.deps.Sessions.Count(),
		"os":              sysInfo.OS,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_threads":     sysInfo.CPUThreads,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}

// handleGetBlocks returns every block definition sent to clients.
func (s *Server) handleGetBlocks(c *gin.Context) {
	if s.deps.Registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "block registry not loaded"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  s.deps.Registry.Len(),
		"states": s.deps.Registry.StateCount(),
		"blocks": s.deps.Registry.Definitions(),
	})
}

// handleGetBlock returns one block definition by name.
func (s *Server) handleGetBlock(c *gin.Context) {
	if s.deps.Registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "block registry not loaded"})
		return
	}

	name := c.Param("name")
	def, ok := s.deps.Registry.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found", "name": name})
		return
	}
	c.JSON(http.StatusOK, def)
}
