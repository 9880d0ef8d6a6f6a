package pagination

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" {
		t.Fatalf("expected empty page token got %q", params.PageToken)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("page_size", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}
}

func TestParsePageSizeCapped(t *testing.T) {
	values := url.Values{}
	values.Set("page_size", "500")

	params, err := Parse(values, Options{MaxPageSize: 50})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 50 {
		t.Fatalf("expected capped page size 50 got %d", params.PageSize)
	}
}

func TestParsePageSizeInvalid(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		values := url.Values{}
		values.Set("page_size", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("page_size=%q: expected ErrInvalidPageSize, got %v", raw, err)
		}
	}
}

func TestParsePassesTokenThrough(t *testing.T) {
	values := url.Values{}
	values.Set("page_token", "  tok_abc  ")

	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageToken != "tok_abc" {
		t.Fatalf("expected trimmed token, got %q", params.PageToken)
	}
}

func TestFromRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/orders?page_size=5&page_token=tok", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != 5 || params.PageToken != "tok" {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{
		CreatedAt: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
		ID:        "order-17",
	}

	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}
	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken returned error: %v", err)
	}
	if !decoded.CreatedAt.Equal(cursor.CreatedAt) || decoded.ID != cursor.ID {
		t.Fatalf("cursor mismatch: %+v != %+v", decoded, cursor)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "%%%", "bm90LWpzb24"} {
		if _, err := DecodeToken(raw); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken, got %v", raw, err)
		}
	}
}
