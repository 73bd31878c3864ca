// Package store persists named tunnel configurations and the LastUsed
// pointers on the router's flash storage.
//
// Every record is a small YAML file written atomically (temp file,
// fsync, rename) with owner-only permissions, so a power cut never
// leaves a truncated config behind. Mutations are serialized in-process
// by a mutex and across processes by an advisory flock.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/travelnet/common"
	"github.com/yllada/travelnet/wgconfig"
)

const recordExt = ".yaml"

// TunnelConfig is a named, persisted WireGuard definition.
type TunnelConfig struct {
	// Name is the unique key, [A-Za-z0-9_-]{1,64}.
	Name string `yaml:"name"`
	// Config is the raw WireGuard configuration text. It contains the
	// private key and must never be logged.
	Config string `yaml:"config"`
	// CreatedAt is when the name was first stored.
	CreatedAt time.Time `yaml:"created_at"`
	// UpdatedAt is set when the config text was replaced.
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// LastUsedKind selects a LastUsed pointer.
type LastUsedKind string

const (
	LastSSID   LastUsedKind = "ssid"
	LastTunnel LastUsedKind = "tunnel"
)

// LastUsed holds the pointers consulted for auto-reconnect.
type LastUsed struct {
	LastSSID       string    `yaml:"last_ssid,omitempty"`
	LastTunnelName string    `yaml:"last_tunnel_name,omitempty"`
	UpdatedAt      time.Time `yaml:"updated_at,omitempty"`
}

// InUseFunc reports whether a tunnel name is currently up or coming up.
type InUseFunc func(name string) bool

// Store manages tunnel configs and LastUsed under a data directory.
type Store struct {
	mu         sync.Mutex
	dataDir    string
	tunnelsDir string
	inUse      InUseFunc
}

// New opens (creating if needed) a store rooted at dataDir.
func New(dataDir string) (*Store, error) {
	s := &Store{
		dataDir:    dataDir,
		tunnelsDir: filepath.Join(dataDir, common.TunnelsDirName),
	}
	if err := common.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := common.EnsureDir(s.tunnelsDir); err != nil {
		return nil, fmt.Errorf("failed to create tunnels directory: %w", err)
	}
	return s, nil
}

// SetInUseFunc installs the guard consulted by Delete.
func (s *Store) SetInUseFunc(fn InUseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse = fn
}

// Put stores a new tunnel config. The name must be unused.
func (s *Store) Put(name, text string) (*TunnelConfig, error) {
	if err := validate(name, text); err != nil {
		return nil, err
	}

	var tc *TunnelConfig
	err := s.withLock(func() error {
		path := s.tunnelPath(name)
		if common.FileExists(path) {
			return fmt.Errorf("%w: %s", common.ErrDuplicateName, name)
		}
		tc = &TunnelConfig{Name: name, Config: text, CreatedAt: time.Now().UTC()}
		return writeYAML(path, tc)
	})
	if err != nil {
		return nil, err
	}

	common.LogInfo("Stored tunnel config %q", name)
	return tc, nil
}

// Replace overwrites the config text of an existing tunnel. It takes
// effect the next time the tunnel is brought up.
func (s *Store) Replace(name, text string) (*TunnelConfig, error) {
	if err := validate(name, text); err != nil {
		return nil, err
	}

	var tc *TunnelConfig
	err := s.withLock(func() error {
		existing, err := s.read(name)
		if err != nil {
			return err
		}
		existing.Config = text
		existing.UpdatedAt = time.Now().UTC()
		tc = existing
		return writeYAML(s.tunnelPath(name), existing)
	})
	if err != nil {
		return nil, err
	}

	common.LogInfo("Replaced tunnel config %q", name)
	return tc, nil
}

// Get returns the tunnel config for name or common.ErrNotFound.
func (s *Store) Get(name string) (*TunnelConfig, error) {
	if err := common.ValidateTunnelName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(name)
}

// List returns the stored tunnel names in sorted order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.tunnelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list tunnels: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), recordExt)
		if common.ValidateTunnelName(name) != nil {
			continue // stray or temp file
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a tunnel config. It fails with common.ErrInUse while
// the tunnel is up or coming up, and common.ErrNotFound if absent.
func (s *Store) Delete(name string) error {
	if err := common.ValidateTunnelName(name); err != nil {
		return err
	}

	err := s.withLock(func() error {
		if s.inUse != nil && s.inUse(name) {
			return fmt.Errorf("%w: tunnel %q is active; bring it down first", common.ErrInUse, name)
		}
		if err := os.Remove(s.tunnelPath(name)); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: tunnel %q", common.ErrNotFound, name)
			}
			return fmt.Errorf("failed to delete tunnel %q: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	common.LogInfo("Deleted tunnel config %q", name)
	return nil
}

// SetLastUsed updates one LastUsed pointer.
func (s *Store) SetLastUsed(kind LastUsedKind, value string) error {
	return s.withLock(func() error {
		lu, err := s.readLastUsed()
		if err != nil {
			return err
		}
		switch kind {
		case LastSSID:
			lu.LastSSID = value
		case LastTunnel:
			lu.LastTunnelName = value
		default:
			return fmt.Errorf("unknown last-used kind %q", kind)
		}
		lu.UpdatedAt = time.Now().UTC()
		return writeYAML(filepath.Join(s.dataDir, common.LastUsedFileName), lu)
	})
}

// GetLastUsed returns one LastUsed pointer and whether it is set.
func (s *Store) GetLastUsed(kind LastUsedKind) (string, bool, error) {
	lu, err := s.LastUsed()
	if err != nil {
		return "", false, err
	}
	var v string
	switch kind {
	case LastSSID:
		v = lu.LastSSID
	case LastTunnel:
		v = lu.LastTunnelName
	default:
		return "", false, fmt.Errorf("unknown last-used kind %q", kind)
	}
	return v, v != "", nil
}

// LastUsed returns the whole LastUsed record.
func (s *Store) LastUsed() (*LastUsed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLastUsed()
}

func (s *Store) tunnelPath(name string) string {
	return filepath.Join(s.tunnelsDir, name+recordExt)
}

// read loads a tunnel record. Callers hold s.mu.
func (s *Store) read(name string) (*TunnelConfig, error) {
	data, err := os.ReadFile(s.tunnelPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: tunnel %q", common.ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read tunnel %q: %w", name, err)
	}
	var tc TunnelConfig
	if err := yaml.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse tunnel %q: %w", name, err)
	}
	if tc.Name != name {
		return nil, fmt.Errorf("tunnel record %q names %q", name, tc.Name)
	}
	return &tc, nil
}

func (s *Store) readLastUsed() (*LastUsed, error) {
	var lu LastUsed
	data, err := os.ReadFile(filepath.Join(s.dataDir, common.LastUsedFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &lu, nil
		}
		return nil, fmt.Errorf("failed to read last-used record: %w", err)
	}
	if err := yaml.Unmarshal(data, &lu); err != nil {
		return nil, fmt.Errorf("failed to parse last-used record: %w", err)
	}
	return &lu, nil
}

// withLock runs fn holding the in-process mutex and the data directory flock.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dataDir, common.LockFileName), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer f.Close()

	unlock, err := lockFile(f)
	if err != nil {
		return err
	}
	defer unlock()

	return fn()
}

func validate(name, text string) error {
	if err := common.ValidateTunnelName(name); err != nil {
		return err
	}
	if _, err := wgconfig.Parse(text); err != nil {
		return err
	}
	return nil
}

func writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}
	if err := common.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
