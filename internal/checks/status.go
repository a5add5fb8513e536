package checks

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseAcceptedStatusCodes decodes the stored accepted status list, a JSON
// array of strings such as ["200s","404"]. A bare comma separated list is
// also accepted. The empty string yields an empty list.
func ParseAcceptedStatusCodes(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if strings.HasPrefix(raw, "[") {
		var codes []string
		if err := json.Unmarshal([]byte(raw), &codes); err != nil {
			return nil, fmt.Errorf("invalid accepted status codes: %w", err)
		}
		return codes, nil
	}

	var codes []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			codes = append(codes, part)
		}
	}
	return codes, nil
}

// CheckStatusCode reports whether code satisfies accepted. Entries are exact
// codes ("404") or century buckets ("200s" covers 200-299). An empty list
// accepts every code.
func CheckStatusCode(code int, accepted []string) bool {
	if len(accepted) == 0 {
		return true
	}

	for _, entry := range accepted {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if bucket, ok := strings.CutSuffix(entry, "s"); ok {
			start, err := strconv.Atoi(bucket)
			if err == nil && code >= start && code < start+100 {
				return true
			}
			continue
		}
		if exact, err := strconv.Atoi(entry); err == nil && exact == code {
			return true
		}
	}
	return false
}
