package infra

import (
	"errors"
	"testing"
)

func TestExtractMarker(t *testing.T) {
	query := `--sql 0b6f2c1e-5a41-4c6e-9d7a-2f3e4b5c6d7e
select 1;
`
	marker, body, err := ExtractMarker(query)
	if err != nil {
		t.Fatalf("ExtractMarker returned error: %v", err)
	}
	if marker != "0b6f2c1e-5a41-4c6e-9d7a-2f3e4b5c6d7e" {
		t.Fatalf("marker = %q", marker)
	}
	if body != "select 1;" {
		t.Fatalf("body = %q", body)
	}
}

func TestExtractMarkerRejectsUnmarked(t *testing.T) {
	cases := map[string]string{
		"no marker":     "select 1;",
		"bad uuid":      "--sql not-a-uuid\nselect 1;",
		"marker only":   "--sql 0b6f2c1e-5a41-4c6e-9d7a-2f3e4b5c6d7e\n",
		"upper hex":     "--sql 0B6F2C1E-5A41-4C6E-9D7A-2F3E4B5C6D7E\nselect 1;",
		"empty":         "   ",
		"leading space": "-- sql 0b6f2c1e-5a41-4c6e-9d7a-2f3e4b5c6d7e\nselect 1;",
	}
	for name, query := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := ExtractMarker(query); err == nil {
				t.Fatalf("expected error for %q", query)
			}
		})
	}
}

func TestErrorRowReturnsMarkerError(t *testing.T) {
	row := errorRow{err: ErrMissingMarker}
	var v int
	if err := row.Scan(&v); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("Scan error = %v, want ErrMissingMarker", err)
	}
}
