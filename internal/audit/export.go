package audit

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"time"
)

var csvHeader = []string{"id", "occurred_at", "principal", "tenant", "resource", "action", "context"}

// WriteCSV serialises denials as CSV with a header row. The context column
// holds the JSON-encoded context map.
func WriteCSV(w io.Writer, entries []Entry) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		meta := ""
		if len(e.Context) > 0 {
			raw, err := json.Marshal(e.Context)
			if err != nil {
				return err
			}
			meta = string(raw)
		}
		if err := writer.Write([]string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Principal,
			e.Tenant,
			e.Resource,
			e.Action,
			meta,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
