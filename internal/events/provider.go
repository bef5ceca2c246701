package events

import (
	"fmt"
	"strings"

	"github.com/TayTech/claude-remote/internal/common/config"
	"github.com/TayTech/claude-remote/internal/common/logger"
	"github.com/TayTech/claude-remote/internal/events/bus"
)

// Provide builds NATS when nats.url is set and the in-memory bus otherwise.
func Provide(cfg config.NATSConfig, log *logger.Logger) (bus.EventBus, func(), error) {
	if strings.TrimSpace(cfg.URL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		return natsBus, natsBus.Close, nil
	}
	memBus := bus.NewMemoryEventBus(log)
	return memBus, memBus.Close, nil
}
