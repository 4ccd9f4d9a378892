package registry

import (
	"sync/atomic"

	"webhookrelay/pkg/config"
	"webhookrelay/pkg/relayerr"
)

// Mode selects when the registry is read from its source.
type Mode int

const (
	// LoadOnce serves the snapshot loaded at startup (or by Reload).
	LoadOnce Mode = iota
	// ReloadEveryRequest loads a fresh snapshot for every request.
	ReloadEveryRequest
)

func (m Mode) String() string {
	switch m {
	case ReloadEveryRequest:
		return "reload_every_request"
	default:
		return "load_once"
	}
}

// Source produces registry snapshots.
type Source interface {
	Load() (*Registry, error)
}

// FileSource loads snapshots from a YAML configuration file.
type FileSource struct {
	Path string
}

// Load reads and parses the file. Failures carry the config_load category.
func (s FileSource) Load() (*Registry, error) {
	cfg, err := config.Load(s.Path)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.ErrorConfigLoad, "load "+s.Path, err)
	}

	return New(cfg), nil
}

// Store holds the current registry snapshot.
type Store struct {
	source  Source
	mode    Mode
	current atomic.Pointer[Registry]
}

// NewStore creates a store. It holds no snapshot until Reload or Set is called.
func NewStore(source Source, mode Mode) *Store {
	return &Store{source: source, mode: mode}
}

// Mode returns the configured reload mode.
func (s *Store) Mode() Mode {
	return s.mode
}

// Current returns the installed snapshot, or nil before the first load.
func (s *Store) Current() *Registry {
	return s.current.Load()
}

// Set installs a snapshot directly.
func (s *Store) Set(reg *Registry) {
	s.current.Store(reg)
}

// Reload loads a new snapshot and installs it. On failure the previous
// snapshot stays in place and the error is returned.
func (s *Store) Reload() (*Registry, error) {
	reg, err := s.load()
	if err != nil {
		return nil, err
	}

	s.current.Store(reg)
	return reg, nil
}

// ForRequest returns the snapshot a single request should resolve against.
//
// In ReloadEveryRequest mode the source is read again and a failure is
// returned as is; there is no fallback to an older snapshot. In LoadOnce
// mode the installed snapshot is returned.
func (s *Store) ForRequest() (*Registry, error) {
	if s.mode == ReloadEveryRequest {
		return s.Reload()
	}

	reg := s.current.Load()
	if reg == nil {
		return nil, relayerr.New(relayerr.ErrorConfigLoad, "no configuration loaded")
	}

	return reg, nil
}

func (s *Store) load() (*Registry, error) {
	if s.source == nil {
		return nil, relayerr.New(relayerr.ErrorConfigLoad, "no configuration source")
	}

	reg, err := s.source.Load()
	if err != nil {
		if relayerr.CategoryFromError(err) != relayerr.ErrorConfigLoad {
			err = relayerr.Wrap(relayerr.ErrorConfigLoad, "load configuration", err)
		}
		return nil, err
	}
	if reg == nil {
		return nil, relayerr.New(relayerr.ErrorConfigLoad, "configuration source returned no registry")
	}

	return reg, nil
}
