package server

import (
	"net/http"

	"github.com/agentflow-go/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades authenticated requests and registers them with the hub.
type Handler struct {
	hub       *Hub
	validator *TokenValidator
	logger    logger.Logger
}

func NewHandler(hub *Hub, validator *TokenValidator, log logger.Logger) *Handler {
	return &Handler{hub: hub, validator: validator, logger: log}
}

func (h *Handler) ServeWS(c *gin.Context) {
	ownerID, err := h.validator.Validate(tokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	NewClient(h.hub, conn, ownerID, h.logger).Start()
}
