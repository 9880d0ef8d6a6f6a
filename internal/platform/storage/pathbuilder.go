package storage

import (
	"fmt"
	"strings"
	"time"
)

// BuildArchivePath composes the object key for an archived webhook payload.
// Payloads are laid out by provider and receipt date so retention policies
// and incident reviews can work on day-sized prefixes.
func BuildArchivePath(provider, eventID string, receivedAt time.Time) (string, error) {
	providerSegment, err := validateSegment("provider", provider)
	if err != nil {
		return "", err
	}
	eventSegment, err := validateSegment("eventID", eventID)
	if err != nil {
		return "", err
	}
	if receivedAt.IsZero() {
		return "", fmt.Errorf("storage: receivedAt is required")
	}
	day := receivedAt.UTC().Format("2006/01/02")
	return fmt.Sprintf("webhooks/%s/%s/%s.json", providerSegment, day, eventSegment), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
