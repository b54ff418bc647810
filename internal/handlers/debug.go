package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"dm-service/internal/presence"
	"dm-service/internal/telemetry"
)

// Presence exposes the live connection table.
type Presence interface {
	Snapshot() map[int]presence.Conn
}

type onlineConn struct {
	UserID int    `json:"user_id"`
	ConnID string `json:"conn_id"`
}

// RegisterDebugRoutes wires operator endpoints. Every call is audited.
func RegisterDebugRoutes(group gin.IRoutes, registry Presence, audit *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	group.GET("/debug/presence", func(c *gin.Context) {
		snapshot := registry.Snapshot()
		online := make([]onlineConn, 0, len(snapshot))
		for userID, conn := range snapshot {
			online = append(online, onlineConn{UserID: userID, ConnID: conn.ID()})
		}
		sort.Slice(online, func(i, j int) bool { return online[i].UserID < online[j].UserID })

		audit.Emit(c.Request.Context(), "INFO", "presence table read ("+strconv.Itoa(len(online))+" online)", requestIDFromContext(c), c.GetInt("userID"))
		c.JSON(http.StatusOK, gin.H{"online": online, "count": len(online)})
	})
}
