package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TayTech/claude-remote/internal/common/httpmw"
	"github.com/TayTech/claude-remote/internal/common/logger"
	ws "github.com/TayTech/claude-remote/pkg/websocket"
)

// Gateway wires the hub, dispatcher and handlers around one registry.
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	Handler    *Handler
	registry   Registry
	logger     *logger.Logger
}

// NewGateway creates the WebSocket gateway for registry.
func NewGateway(registry Registry, log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	hub := NewHub(dispatcher, registry.OnDisconnect, log)
	executions := NewExecutionHandlers(registry, log)
	executions.RegisterHandlers(dispatcher)
	hub.executions = executions

	g := &Gateway{
		Hub:        hub,
		Dispatcher: dispatcher,
		Handler:    NewHandler(hub, log),
		registry:   registry,
		logger:     log,
	}
	RegisterHealthHandler(dispatcher, g.Health)
	return g
}

// Health reports the live execution count and client presence.
func (g *Gateway) Health() ws.HealthStatus {
	return ws.HealthStatus{
		Status:          "ok",
		Executions:      g.registry.Count(),
		ClientConnected: g.Hub.Connected(),
	}
}

// SetupRoutes adds /health and the WebSocket route guarded by token.
func (g *Gateway) SetupRoutes(router *gin.Engine, wsPath, token string) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, g.Health())
	})
	router.GET(wsPath, httpmw.TokenAuth(token), g.Handler.HandleConnection)
}
