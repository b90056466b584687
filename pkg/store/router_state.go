package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
)

// GetRouterState returns the singleton router cursor row, or a zero-valued state if the
// router has never run before.
func (c *Client) GetRouterState(ctx context.Context) (*models.RouterState, error) {
	row := c.db.QueryRowContext(ctx, `SELECT last_timestamp, last_agent_timestamp FROM router_state WHERE id = 1`)

	var lastTimestamp sql.NullTime
	var rawAgentTimestamps string
	if err := row.Scan(&lastTimestamp, &rawAgentTimestamps); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.RouterState{LastAgentTimestamp: map[string]time.Time{}}, nil
		}
		return nil, fmt.Errorf("get router state: %w", err)
	}

	state := &models.RouterState{LastAgentTimestamp: map[string]time.Time{}}
	if lastTimestamp.Valid {
		state.LastTimestamp = lastTimestamp.Time
	}
	if rawAgentTimestamps != "" {
		if err := json.Unmarshal([]byte(rawAgentTimestamps), &state.LastAgentTimestamp); err != nil {
			return nil, fmt.Errorf("decode last_agent_timestamp: %w", err)
		}
	}
	return state, nil
}

// SaveRouterState persists the singleton router cursor row.
func (c *Client) SaveRouterState(ctx context.Context, state models.RouterState) error {
	raw, err := json.Marshal(state.LastAgentTimestamp)
	if err != nil {
		return fmt.Errorf("encode last_agent_timestamp: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO router_state (id, last_timestamp, last_agent_timestamp) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_timestamp = excluded.last_timestamp, last_agent_timestamp = excluded.last_agent_timestamp
	`, state.LastTimestamp, string(raw))
	if err != nil {
		return fmt.Errorf("save router state: %w", err)
	}
	return nil
}
