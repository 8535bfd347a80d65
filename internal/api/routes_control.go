package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/server"
)

type kickRequest struct {
	Reason string `json:"reason"`
}

// handleKick kicks the session whose id or unique id prefix is given.
func (s *Server) handleKick(c *gin.Context) {
	var req kickRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	id, err := s.deps.Sessions.Kick(c.Param("id"), req.Reason)
	switch {
	case errors.Is(err, server.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "id": c.Param("id")})
		return
	case errors.Is(err, server.ErrAmbiguousSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "id": c.Param("id")})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().
		Str("session", id).
		Str("client_ip", c.ClientIP()).
		Msg("API: session kicked")

	c.JSON(http.StatusOK, gin.H{
		"status":  "kicked",
		"session": id,
	})
}
