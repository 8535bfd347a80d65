package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/util"
)

const (
	defaultLogEntries = 100
	maxLogEntries     = 1000
	maxHistory        = 500
)

// handleGetSessions returns every live session.
func (s *Server) handleGetSessions(c *gin.Context) {
	sessions := s.deps.Sessions.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"sessions":  sessions,
		"total":     len(sessions),
		"logged_in": s.deps.Sessions.LoggedInCount(),
	})
}

// handleGetHistory returns recent ledger rows, newest first.
func (s *Server) handleGetHistory(c *gin.Context) {
	if s.deps.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session ledger is disabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > maxHistory {
		limit = maxHistory
	}

	records, err := s.deps.Ledger.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": records,
		"count":    len(records),
	})
}

// handleGetSlots returns player slot usage since startup.
func (s *Server) handleGetSlots(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Sessions.Slots().Snapshot())
}

// handleGetUsage returns the last resource sample, sampling now when no
// health manager is running.
func (s *Server) handleGetUsage(c *gin.Context) {
	if s.deps.Usage != nil {
		if usage, at := s.deps.Usage.LastUsage(); !at.IsZero() {
			c.JSON(http.StatusOK, gin.H{"usage": usage, "sampled_at": at})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"usage": util.SampleUsage(s.cfg.ResolveDir("."))})
}

// handleGetLogEntries returns recent log entries.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(defaultLogEntries)))
	if err != nil || count < 1 {
		count = defaultLogEntries
	}
	if count > maxLogEntries {
		count = maxLogEntries
	}

	entries, err := readRecentLogEntries(s.cfg.Logging.Directory, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// logEntry is a parsed log line.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries parses the last count JSON lines of the newest
// .log file in logDir.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, err
	}

	var logs []string
	for _, e := range dirEntries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".log" {
			logs = append(logs, e.Name())
		}
	}
	if len(logs) == 0 {
		return []logEntry{}, nil
	}
	// names carry the date, so the last one is the newest
	sort.Strings(logs)

	data, err := os.ReadFile(filepath.Join(logDir, logs[len(logs)-1]))
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	start := len(lines) - count - 1
	if start < 0 {
		start = 0
	}

	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true,
		"caller": true, "app": true,
	}

	result := make([]logEntry, 0, count)
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Level:   stringFromMap(raw, "level"),
			Message: stringFromMap(raw, "message"),
		}
		if t, ok := raw["time"]; ok {
			entry.Timestamp = fmt.Sprintf("%v", t)
		}

		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}

		result = append(result, entry)
	}

	if len(result) > count {
		result = result[len(result)-count:]
	}
	return result, nil
}

func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
