package gateway

import (
	"bytes"

	"github.com/goccy/go-json"

	"gateway/pkg/metrics"
	"gateway/pkg/registry"
	"gateway/pkg/routing"

	"go.uber.org/zap"
)

// Inbound message types
const (
	TypeAuth      = "auth"
	TypeSubscribe = "subscribe"
)

// ClientMessage is the envelope of every inbound client frame
type ClientMessage struct {
	Type   string         `json:"type"`
	Player *PlayerPayload `json:"player,omitempty"`
	Topics []string       `json:"topics,omitempty"`
}

// PlayerPayload identifies the player in an auth message. Both faction
// spellings are accepted.
type PlayerPayload struct {
	ID             any `json:"id"`
	FactionID      any `json:"factionId"`
	FactionIDSnake any `json:"faction_id"`
}

// HandleMessage applies one inbound frame to the registry. Anything that is
// not a well formed auth or subscribe message is ignored.
func (s *Service) HandleMessage(connID string, data []byte) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var msg ClientMessage
	if err := dec.Decode(&msg); err != nil {
		metrics.ClientMessagesTotal.WithLabelValues("invalid").Inc()
		s.logger.Debug("ignoring unparseable client message", zap.String("conn_id", connID))
		return
	}

	switch msg.Type {
	case TypeAuth:
		id, ok := msg.identity()
		if !ok {
			metrics.ClientMessagesTotal.WithLabelValues("invalid").Inc()
			return
		}
		metrics.ClientMessagesTotal.WithLabelValues(TypeAuth).Inc()
		if s.registry.Authenticate(connID, id) {
			s.logger.Debug("client authenticated",
				zap.String("conn_id", connID),
				zap.String("player_id", id.PlayerID),
				zap.String("faction_id", id.FactionID))
		}

	case TypeSubscribe:
		metrics.ClientMessagesTotal.WithLabelValues(TypeSubscribe).Inc()
		if s.registry.Subscribe(connID, msg.Topics) {
			s.logger.Debug("client subscribed",
				zap.String("conn_id", connID),
				zap.Strings("topics", msg.Topics))
		}

	default:
		metrics.ClientMessagesTotal.WithLabelValues("ignored").Inc()
	}
}

// identity extracts a normalized identity. A player id is required.
func (m ClientMessage) identity() (registry.Identity, bool) {
	if m.Player == nil {
		return registry.Identity{}, false
	}
	player, ok := routing.NormalizeID(m.Player.ID)
	if !ok {
		return registry.Identity{}, false
	}

	faction, ok := routing.NormalizeID(m.Player.FactionID)
	if !ok {
		faction, _ = routing.NormalizeID(m.Player.FactionIDSnake)
	}
	return registry.Identity{PlayerID: player, FactionID: faction}, true
}
