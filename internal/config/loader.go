package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var ErrEmptyPersona = errors.New("persona file is empty")

// Loader serves snapshots of the persona text and the tunables file. Both are
// read at construction so a missing file fails startup rather than a request.
type Loader struct {
	personaPath string
	v           *viper.Viper
	logger      *zap.Logger

	mu         sync.RWMutex
	persona    string
	personaMod time.Time
	tunables   Tunables
}

func NewLoader(personaPath, tunablesPath string, logger *zap.Logger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	v.SetConfigFile(tunablesPath)

	l := &Loader{
		personaPath: personaPath,
		v:           v,
		logger:      logger.With(zap.String("component", "config")),
	}

	if err := l.loadPersona(); err != nil {
		return nil, err
	}
	if err := l.Reload(); err != nil {
		return nil, err
	}

	return l, nil
}

// Watch reloads the tunables whenever the file changes on disk.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if err := l.apply(); err != nil {
			l.logger.Warn("ignoring invalid tunables, keeping previous values", zap.String("file", e.Name), zap.Error(err))
			return
		}
		l.logger.Info("tunables reloaded", zap.String("file", e.Name))
	})
	l.v.WatchConfig()
}

// Reload re-reads the tunables file. On error the previous values stay.
func (l *Loader) Reload() error {
	if err := l.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading tunables %s: %w", l.v.ConfigFileUsed(), err)
	}
	return l.apply()
}

func (l *Loader) apply() error {
	t, err := Decode(l.v.AllSettings())
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.tunables = t
	l.mu.Unlock()
	return nil
}

// Snapshot returns the current persona and tunables. The persona file is
// re-read when its modification time changes.
func (l *Loader) Snapshot() Snapshot {
	if err := l.refreshPersona(); err != nil {
		l.logger.Warn("keeping previous persona", zap.String("file", l.personaPath), zap.Error(err))
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{Persona: l.persona, Tunables: l.tunables}
}

func (l *Loader) refreshPersona() error {
	info, err := os.Stat(l.personaPath)
	if err != nil {
		return err
	}

	l.mu.RLock()
	unchanged := info.ModTime().Equal(l.personaMod)
	l.mu.RUnlock()
	if unchanged {
		return nil
	}

	return l.loadPersona()
}

func (l *Loader) loadPersona() error {
	info, err := os.Stat(l.personaPath)
	if err != nil {
		return fmt.Errorf("persona file: %w", err)
	}

	raw, err := os.ReadFile(l.personaPath)
	if err != nil {
		return fmt.Errorf("reading persona %s: %w", l.personaPath, err)
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fmt.Errorf("%s: %w", l.personaPath, ErrEmptyPersona)
	}

	l.mu.Lock()
	l.persona = text
	l.personaMod = info.ModTime()
	l.mu.Unlock()
	return nil
}

// Static serves a fixed snapshot.
type Static Snapshot

func (s Static) Snapshot() Snapshot {
	return Snapshot(s)
}
