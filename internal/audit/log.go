package audit

import (
	"encoding/json"
	"time"

	"habar.org/internal/obs"
)

// LogEntry mirrors a committed ledger entry to the structured log so
// operators can tail privileged activity without querying the store.
// The durable record is the ledger row; this line is an echo.
func LogEntry(entry Entry) {
	line := map[string]any{
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
		"type":     "audit",
		"action":   entry.Action.String(),
		"entry_id": entry.ID,
		"admin_id": entry.AdminID,
	}
	if entry.TargetSubjectID != "" {
		line["target_subject_id"] = entry.TargetSubjectID
	}
	if entry.Origin != "" {
		line["origin"] = entry.Origin
	}
	if len(entry.Metadata) > 0 {
		line["metadata"] = entry.Metadata
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}
