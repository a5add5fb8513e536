package checks

import "testing"

func TestCheckStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		accepted []string
		want     bool
	}{
		{"Century bucket accepts member", 204, []string{"200s"}, true},
		{"Buckets reject other centuries", 404, []string{"200s", "300s"}, false},
		{"Empty list accepts all", 301, nil, true},
		{"Exact code matches", 404, []string{"404"}, true},
		{"Exact code rejects others", 403, []string{"404"}, false},
		{"Bucket upper bound is exclusive", 300, []string{"200s"}, false},
		{"Mixed list", 503, []string{"200s", "503"}, true},
		{"Malformed entries never match", 200, []string{"abc", "2xx"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckStatusCode(tt.code, tt.accepted); got != tt.want {
				t.Errorf("Expected %v for %d against %v, got %v", tt.want, tt.code, tt.accepted, got)
			}
		})
	}
}

func TestParseAcceptedStatusCodes(t *testing.T) {
	t.Run("JSON array", func(t *testing.T) {
		codes, err := ParseAcceptedStatusCodes(`["200s","404"]`)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(codes) != 2 || codes[0] != "200s" || codes[1] != "404" {
			t.Errorf("Expected [200s 404], got %v", codes)
		}
	})

	t.Run("Bare value", func(t *testing.T) {
		codes, err := ParseAcceptedStatusCodes("404")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !CheckStatusCode(404, codes) {
			t.Error("Expected 404 to be accepted by a bare \"404\" entry")
		}
	})

	t.Run("Empty string", func(t *testing.T) {
		codes, err := ParseAcceptedStatusCodes("  ")
		if err != nil || len(codes) != 0 {
			t.Errorf("Expected empty list, got %v (err %v)", codes, err)
		}
	})

	t.Run("Broken JSON", func(t *testing.T) {
		if _, err := ParseAcceptedStatusCodes(`["200s"`); err == nil {
			t.Error("Expected error for broken JSON")
		}
	})
}
