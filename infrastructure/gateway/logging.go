// Package gateway contains the outbound edge of the coordinator. The
// logging gateway stands in for a real client transport: it records every
// push so the delivery behaviour stays observable without a socket layer.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/wI2L/jsondiff"

	"conference-lab/domain"
	"conference-lab/synchronization"
)

type LoggingGateway struct {
	log *slog.Logger

	mu      sync.Mutex
	enabled map[domain.Participant]string
}

func NewLoggingGateway(log *slog.Logger) *LoggingGateway {
	return &LoggingGateway{log: log, enabled: make(map[domain.Participant]string)}
}

// EnableMessaging marks the connection as ready to receive pushes.
func (g *LoggingGateway) EnableMessaging(_ context.Context, p domain.Participant, connectionID string) error {
	g.mu.Lock()
	g.enabled[p] = connectionID
	g.mu.Unlock()
	g.log.Info("messaging enabled",
		"conferenceId", p.ConferenceID, "participantId", p.ID, "connectionId", connectionID)
	return nil
}

func (g *LoggingGateway) PushFullState(_ context.Context, id synchronization.ObjectID,
	to []domain.Participant, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	for _, p := range to {
		g.log.Info("push full state",
			"objectId", id.String(), "participantId", p.ID, "value", string(data))
	}
	return nil
}

func (g *LoggingGateway) PushPatch(_ context.Context, id synchronization.ObjectID,
	to []domain.Participant, patch jsondiff.Patch) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	for _, p := range to {
		g.log.Info("push patch",
			"objectId", id.String(), "participantId", p.ID, "patch", string(data))
	}
	return nil
}
