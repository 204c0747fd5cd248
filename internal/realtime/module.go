package realtime

import (
	"estatecrm_backend/internal/events"
	apphttp "estatecrm_backend/internal/http"
	"estatecrm_backend/platform/config"
	"estatecrm_backend/platform/logger"
)

// Module is the realtime bounded context module implementing http.Module.
type Module struct {
	hub *Hub
}

// NewModule creates the realtime module and wires the hub to the bus.
func NewModule(bus events.Bus, cfg config.RealtimeConfig, log *logger.Logger) *Module {
	return &Module{hub: NewHub(bus, cfg.GetRealtimeHeartbeatInterval(), log)}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "realtime" }

// RegisterRoutes mounts the websocket endpoint. It lives on the engine
// root, not under /api/v1, so ws:// URLs stay stable across API versions.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Engine.GET("/ws", m.hub.HandleWS)
}

// Hub exposes the hub for shutdown.
func (m *Module) Hub() *Hub { return m.hub }
