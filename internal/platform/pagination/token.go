package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor marks the last document of a page for collections ordered by
// createdAt descending with the document ID as tie breaker. Orders and audit
// logs both paginate this way.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// EncodeToken serialises the cursor into an opaque URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken parses a client-supplied page token back into a cursor.
func DecodeToken(token string) (Cursor, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Cursor{}, fmt.Errorf("%w: empty token", ErrInvalidPageToken)
	}
	raw, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
