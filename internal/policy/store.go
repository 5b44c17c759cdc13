package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/triaged/internal/diagnosis"
	"github.com/fyrsmithlabs/triaged/internal/logging"
)

const maxPolicyFileSize = 1 << 20

// File is the on-disk policy document.
type File struct {
	ProtectedPaths []string `yaml:"protected_paths"`
}

// Store serves the current Gate and swaps it atomically on reload.
type Store struct {
	gate    atomic.Pointer[Gate]
	logger  *logging.Logger
	reloads atomic.Int64
}

// NewStore creates a Store seeded with rules.
func NewStore(rules []string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Store{logger: logger}
	s.gate.Store(NewGate(rules))
	return s
}

// Gate returns the current gate snapshot.
func (s *Store) Gate() *Gate {
	return s.gate.Load()
}

// Evaluate evaluates patch against the current gate.
func (s *Store) Evaluate(patch diagnosis.Patch) Decision {
	return s.Gate().Evaluate(patch)
}

// Reloads counts successful file loads.
func (s *Store) Reloads() int64 {
	return s.reloads.Load()
}

// LoadFile parses a policy YAML file.
func LoadFile(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat policy file: %w", err)
	}
	if info.Size() > maxPolicyFileSize {
		return nil, fmt.Errorf("policy file too large: %d bytes (max %d)", info.Size(), maxPolicyFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if f.ProtectedPaths == nil {
		return nil, errors.New("policy file has no protected_paths key")
	}
	return &f, nil
}

// Load replaces the gate with the rules in path. On error the current
// gate is kept.
func (s *Store) Load(ctx context.Context, path string) error {
	f, err := LoadFile(path)
	if err != nil {
		return err
	}
	g := NewGate(f.ProtectedPaths)
	s.gate.Store(g)
	s.reloads.Add(1)
	s.logger.Info(ctx, "policy loaded",
		zap.String("path", path),
		zap.Strings("protected_paths", g.Protected))
	return nil
}

// Watch reloads path whenever it is written or replaced, until ctx is
// done. The parent directory is watched so that editors which save by
// rename are picked up.
func (s *Store) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving policy path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.Load(ctx, abs); err != nil {
				s.logger.Warn(ctx, "policy reload failed, keeping previous rules",
					zap.String("path", abs),
					zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn(ctx, "policy watcher error", zap.Error(err))
		}
	}
}
