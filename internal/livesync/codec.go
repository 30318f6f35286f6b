package livesync

import (
	"encoding/json"
	"fmt"
	"time"

	"marinaops/internal/types"
)

// Header and attribute names carried alongside the JSON body.
const (
	attrKind       = "kind"
	attrSiteID     = "site_id"
	attrOccurredAt = "occurred_at"
)

func encodeEvent(ev types.ChangeEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("livesync: encode change event %s: %w", ev.ID, err)
	}
	return data, nil
}

// decodeEvent parses a change event body. On failure the returned delivery
// is marked malformed so the listener falls back to a full invalidation.
func decodeEvent(body []byte) (types.ChangeEvent, bool) {
	var ev types.ChangeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return types.ChangeEvent{}, true
	}
	switch ev.Kind {
	case types.ChangeInsert, types.ChangeUpdate, types.ChangeDelete:
	default:
		return ev, true
	}
	return ev, false
}

func occurredAt(ev types.ChangeEvent) string {
	return ev.OccurredAt.UTC().Format(time.RFC3339Nano)
}
