package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// workspaceKey is the gin context key the workspace id is stored under.
const workspaceKey = "workspace_id"

// WorkspaceRequired rejects requests without the x-workspace-id header.
// Every row and query is scoped to the workspace it names.
func WorkspaceRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := c.GetHeader("x-workspace-id")
		if ws == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "x-workspace-id header is required",
			})
			return
		}
		c.Set(workspaceKey, ws)
		c.Next()
	}
}

// workspace returns the workspace id set by WorkspaceRequired.
func workspace(c *gin.Context) string {
	return c.GetString(workspaceKey)
}
