package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/introspect-labs/introspect/pkg/types"
)

const saveResultSQL = `
INSERT INTO profile_results (unit_key, phase, session_id, result)
VALUES ($1, $2, $3, $4)
ON CONFLICT (unit_key, phase) DO NOTHING`

// SaveResult stores one phase result for the profile. The (unit_key,
// phase) primary key absorbs redelivery: a duplicate insert is a no-op
// and returns false.
func (s *Store) SaveResult(ctx context.Context, unitKey string, phase types.Phase, sessionID string, result json.RawMessage) (bool, error) {
	tag, err := s.pool.Exec(ctx, saveResultSQL, unitKey, string(phase), sessionID, result)
	if err != nil {
		return false, fmt.Errorf("saving %s result for %s: %w", phase, unitKey, err)
	}
	return tag.RowsAffected() == 1, nil
}
