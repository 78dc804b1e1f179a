package app

import (
	"fmt"

	"github.com/google/uuid"
)

// newID produces a prefixed random identifier, e.g. "sub_3f0c...".
// Isolated here so the ID strategy can evolve independently.
func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// newEventID produces a time-ordered identifier for billing events.
func newEventID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating event id: %w", err)
	}
	return "evt_" + id.String(), nil
}
