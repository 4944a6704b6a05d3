package ai

import (
	"math"
	"testing"
)

func TestDecodeObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "plain", raw: `{"scope": "IN_SCOPE"}`},
		{name: "fenced", raw: "```json\n{\"scope\": \"IN_SCOPE\"}\n```"},
		{name: "prose around", raw: "Sure! Here it is: {\"scope\": \"IN_SCOPE\"} Hope that helps."},
		{name: "not json", raw: "IN_SCOPE", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, err := DecodeObject(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if data["scope"] != "IN_SCOPE" {
				t.Fatalf("unexpected data: %v", data)
			}
		})
	}
}

func TestCoerceFloat(t *testing.T) {
	t.Parallel()

	if got := CoerceFloat("85%"); got != 85 {
		t.Fatalf("expected 85, got %v", got)
	}
	if got := CoerceFloat(float64(72)); got != 72 {
		t.Fatalf("expected 72, got %v", got)
	}
	if !math.IsNaN(CoerceFloat(nil)) {
		t.Fatalf("expected NaN for nil")
	}
	if !math.IsNaN(CoerceFloat("high")) {
		t.Fatalf("expected NaN for text")
	}
}

func TestCoerceStrings(t *testing.T) {
	t.Parallel()

	got := CoerceStrings([]any{" Go ", "", 3.0})
	if len(got) != 2 || got[0] != "Go" || got[1] != "3" {
		t.Fatalf("unexpected strings: %#v", got)
	}

	if got := CoerceStrings(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}
