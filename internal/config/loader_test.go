package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func setup(t *testing.T, persona, tunables string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	personaPath := filepath.Join(dir, "persona.txt")
	tunablesPath := filepath.Join(dir, "config.json")
	writeFile(t, personaPath, persona)
	writeFile(t, tunablesPath, tunables)
	return personaPath, tunablesPath
}

func TestNewLoaderAppliesDefaults(t *testing.T) {
	persona, tunables := setup(t, "  You are Eric.\n", `{"conversation_history_limit": 8}`)

	l, err := NewLoader(persona, tunables, zap.NewNop())
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}

	snap := l.Snapshot()
	if snap.Persona != "You are Eric." {
		t.Fatalf("unexpected persona %q", snap.Persona)
	}

	want := DefaultTunables()
	want.ConversationHistoryLimit = 8
	if snap.Tunables != want {
		t.Fatalf("expected %+v, got %+v", want, snap.Tunables)
	}

	limits := snap.Limits()
	if limits.Warning != 5 || limits.Cutoff != 10 || limits.Total != 50 {
		t.Fatalf("unexpected limits %+v", limits)
	}
}

func TestNewLoaderFailsFast(t *testing.T) {
	dir := t.TempDir()
	persona, tunables := setup(t, "persona", `{}`)

	if _, err := NewLoader(filepath.Join(dir, "missing.txt"), tunables, nil); err == nil {
		t.Fatalf("expected missing persona to fail")
	}
	if _, err := NewLoader(persona, filepath.Join(dir, "missing.json"), nil); err == nil {
		t.Fatalf("expected missing tunables to fail")
	}

	empty, _ := setup(t, "   \n", `{}`)
	if _, err := NewLoader(empty, tunables, nil); !errors.Is(err, ErrEmptyPersona) {
		t.Fatalf("expected empty persona error, got %v", err)
	}

	_, invalid := setup(t, "persona", `{"out_of_scope_warning_threshold": 12}`)
	if _, err := NewLoader(persona, invalid, nil); err == nil || !strings.Contains(err.Error(), "must not exceed") {
		t.Fatalf("expected threshold validation error, got %v", err)
	}
}

func TestPersonaHotSwap(t *testing.T) {
	persona, tunables := setup(t, "first", `{}`)
	l, err := NewLoader(persona, tunables, nil)
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}

	writeFile(t, persona, "second")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(persona, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if got := l.Snapshot().Persona; got != "second" {
		t.Fatalf("expected reloaded persona, got %q", got)
	}

	if err := os.Remove(persona); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := l.Snapshot().Persona; got != "second" {
		t.Fatalf("expected last good persona after removal, got %q", got)
	}
}

func TestReloadKeepsLastGoodTunables(t *testing.T) {
	persona, tunables := setup(t, "persona", `{"total_session_limit": 30}`)
	l, err := NewLoader(persona, tunables, nil)
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}

	writeFile(t, tunables, `{"total_session_limit": "40", "max_query_length": 250}`)
	if err := l.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := l.Snapshot().Tunables; got.TotalSessionLimit != 40 || got.MaxQueryLength != 250 {
		t.Fatalf("expected reloaded values, got %+v", got)
	}

	writeFile(t, tunables, `{"total_session_limit": -1}`)
	if err := l.Reload(); err == nil {
		t.Fatalf("expected invalid reload to fail")
	}
	if got := l.Snapshot().Tunables.TotalSessionLimit; got != 40 {
		t.Fatalf("expected last good value 40, got %d", got)
	}

	writeFile(t, tunables, `{not json`)
	if err := l.Reload(); err == nil {
		t.Fatalf("expected malformed file to fail")
	}
	if got := l.Snapshot().Tunables.TotalSessionLimit; got != 40 {
		t.Fatalf("expected last good value 40, got %d", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Tunables)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Tunables) {}},
		{name: "equal thresholds", mutate: func(t *Tunables) { t.OutOfScopeWarningThreshold = 10 }},
		{name: "zero history", mutate: func(t *Tunables) { t.ConversationHistoryLimit = 0 }, wantErr: true},
		{name: "negative job length", mutate: func(t *Tunables) { t.MaxJobDescriptionLength = -5 }, wantErr: true},
		{name: "warning above cutoff", mutate: func(t *Tunables) { t.OutOfScopeWarningThreshold = 11 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tun := DefaultTunables()
			tt.mutate(&tun)
			if err := tun.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	s := Static{Persona: "p", Tunables: DefaultTunables()}
	if snap := s.Snapshot(); snap.Persona != "p" || snap.Tunables.MaxQueryLength != 500 {
		t.Fatalf("unexpected static snapshot %+v", snap)
	}
}
