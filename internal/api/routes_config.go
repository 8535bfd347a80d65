package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
)

type setConfigRequest struct {
	Key   string      `json:"key" binding:"required"`
	Value interface{} `json:"value"`
}

// handleGetConfig returns the current configuration with secrets blanked.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Export())
}

// handleSetConfig updates one top-level field. Invalid values are rolled
// back and reported.
func (s *Server) handleSetConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.cfg.SetField(req.Key, req.Value)
	if err != nil {
		body := gin.H{"error": err.Error()}
		if result != nil {
			body["validation_errors"] = result.Errors
		}
		c.JSON(http.StatusBadRequest, body)
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Key:   req.Key,
			Value: req.Value,
		},
	})

	log.Info().Str("key", req.Key).Str("client_ip", c.ClientIP()).Msg("API: config updated")

	warnings := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		warnings = append(warnings, w.Error())
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "updated",
		"key":      req.Key,
		"warnings": warnings,
	})
}
