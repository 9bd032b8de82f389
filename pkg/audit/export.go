package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// exportJSON exports audit entries as a JSON array.
func exportJSON(entries []*Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports audit entries as newline-delimited JSON.
func exportNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// exportCSV exports audit entries as CSV, one row per entry.
func exportCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"timestamp",
		"event",
		"actor",
		"subject_type",
		"subject_id",
		"severity",
		"description",
		"ip_address",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		row := []string{
			entry.CreatedAt.Format(time.RFC3339),
			string(entry.Event),
			formatInt64Ptr(entry.ActorID),
			entry.SubjectType,
			entry.SubjectID,
			string(entry.Severity),
			entry.Description,
			metadataString(entry.Metadata, "ip_address"),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}

func metadataString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
