package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/goccy/go-json"
)

// Envelope mirrors a changefeed row event: the row image sits under after
type Envelope struct {
	After   map[string]any `json:"after"`
	Updated string         `json:"updated"`
}

// sampleRow builds a plausible row for topic, owned by player and faction
// where the table has owners. Unknown topics get a bare owned row.
func sampleRow(topic string, player, faction int64, rng *rand.Rand) map[string]any {
	switch topic {
	case "combat_logs":
		return map[string]any{
			"id":          rng.Int63n(1 << 40),
			"attacker_id": player,
			"defender_id": player + 1000 + rng.Int63n(10000),
			"damage":      rng.Intn(500),
			"outcome":     []string{"win", "loss", "stalemate"}[rng.Intn(3)],
		}
	case "hospital_stays":
		return map[string]any{
			"player_id":  player,
			"faction_id": faction,
			"reason":     "combat",
			"release_at": time.Now().Add(time.Duration(rng.Intn(60)) * time.Minute).UTC().Format(time.RFC3339),
		}
	case "combat_stats":
		return map[string]any{
			"player_id":  player,
			"faction_id": faction,
			"wins":       rng.Intn(100),
			"losses":     rng.Intn(100),
		}
	case "marketplace_listings":
		row := map[string]any{
			"id":    rng.Int63n(1 << 40),
			"item":  fmt.Sprintf("item-%d", rng.Intn(200)),
			"price": rng.Intn(100000),
		}
		if player > 0 {
			row["seller_id"] = player
		}
		return row
	case "stock_prices":
		return map[string]any{
			"symbol": []string{"SATN", "GRIT", "HOSP", "BANK"}[rng.Intn(4)],
			"price":  float64(rng.Intn(100000)) / 100,
		}
	case "stock_transactions":
		return map[string]any{
			"player_id": player,
			"symbol":    "SATN",
			"shares":    rng.Intn(1000) + 1,
		}
	case "cd_rates", "interest_transactions":
		return map[string]any{
			"player_id": player,
			"rate":      float64(rng.Intn(500)) / 100,
		}
	default:
		return map[string]any{"player_id": player, "faction_id": faction}
	}
}

// encodeSample returns the record key and changefeed-shaped payload
func encodeSample(topic string, player, faction int64, rng *rand.Rand) ([]byte, []byte, error) {
	row := sampleRow(topic, player, faction, rng)
	value, err := json.Marshal(Envelope{
		After:   row,
		Updated: fmt.Sprintf("%d.0000000000", time.Now().UnixNano()),
	})
	if err != nil {
		return nil, nil, err
	}
	key := []byte(fmt.Sprintf("[%d]", player))
	return key, value, nil
}
