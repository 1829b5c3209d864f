package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// Segment is one unit of recognized text, optionally tied to a page.
type Segment struct {
	Text string `json:"text"`
	Page *int   `json:"page,omitempty"`
	Kind string `json:"kind"`
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func intPtr(v int) *int { return &v }
