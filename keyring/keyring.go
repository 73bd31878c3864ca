// Package keyring provides secure WiFi credential storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/travelnet/common"
)

const (
	// DefaultService is the identifier used in the system keyring.
	DefaultService = "travelnet-wifi"

	checkKey = "travelnet-availability"
	hkdfSalt = "travelnet-credentials-v1"
)

// Backend selects where secrets live.
type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendSystem Backend = "system"
	BackendFile   Backend = "file"
)

// Options configures a Store.
type Options struct {
	Backend Backend
	// Dir holds the encrypted credentials file for the file backend.
	Dir     string
	Service string
}

// Store implements common.CredentialStore.
type Store struct {
	backend Backend
	service string

	mu    sync.RWMutex
	path  string
	key   []byte
	local map[string]string
}

var _ common.CredentialStore = (*Store)(nil)

// New opens a credential store. With BackendAuto the system keyring is
// checked once with a throwaway entry and the encrypted file is used if it is unreachable.
func New(opts Options) (*Store, error) {
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if opts.Backend == "" {
		opts.Backend = BackendAuto
	}

	s := &Store{service: opts.Service}

	switch opts.Backend {
	case BackendSystem:
		s.backend = BackendSystem
		return s, nil
	case BackendAuto:
		err := keyring.Set(s.service, checkKey, "ok")
		if err == nil {
			_ = keyring.Delete(s.service, checkKey)
			s.backend = BackendSystem
			common.LogDebug("Using system keyring for WiFi credentials")
			return s, nil
		}
		common.LogInfo("System keyring unavailable (%v), using encrypted file", err)
	case BackendFile:
	default:
		return nil, common.NewValidationError("credentials backend", "unknown backend %q", opts.Backend)
	}

	if opts.Dir == "" {
		return nil, common.NewValidationError("credentials dir", "required for the file backend")
	}
	if err := s.openFile(opts.Dir); err != nil {
		return nil, err
	}
	return s, nil
}

// Backend reports the backend in use after auto-detection.
func (s *Store) Backend() Backend {
	return s.backend
}

func (s *Store) openFile(dir string) error {
	if err := common.EnsureDir(dir); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	key, err := deriveKey()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	s.backend = BackendFile
	s.path = filepath.Join(dir, common.CredentialsFileName)
	s.key = key
	s.local = make(map[string]string)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}

	plaintext, err := s.decrypt(data)
	if err != nil {
		// Machine identity changed or the file is corrupt. Saved
		// networks are lost but the router stays usable.
		common.LogWarn("Stored WiFi credentials are unreadable and will be replaced: %v", err)
		return nil
	}
	if err := json.Unmarshal(plaintext, &s.local); err != nil {
		common.LogWarn("Stored WiFi credentials are malformed and will be replaced: %v", err)
		s.local = make(map[string]string)
	}
	return nil
}

// deriveKey builds the file encryption key from machine-specific data.
func deriveKey() ([]byte, error) {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s|%s|%d", machineID(), hostname, os.Getuid())

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(hkdfSalt), []byte(common.AppName))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	return "default-machine-id"
}

// Store saves the secret for ssid. An empty secret records an open network.
func (s *Store) Store(ssid, secret string) error {
	if err := common.ValidateSSID(ssid); err != nil {
		return err
	}

	if s.backend == BackendSystem {
		if err := keyring.Set(s.service, ssid, secret); err != nil {
			return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.local[ssid]
	s.local[ssid] = secret
	if err := s.save(); err != nil {
		if had {
			s.local[ssid] = prev
		} else {
			delete(s.local, ssid)
		}
		return err
	}
	return nil
}

// Get retrieves the secret for ssid, or common.ErrNotFound.
func (s *Store) Get(ssid string) (string, error) {
	if err := common.ValidateSSID(ssid); err != nil {
		return "", err
	}

	if s.backend == BackendSystem {
		secret, err := keyring.Get(s.service, ssid)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", fmt.Errorf("%w: credentials for %q", common.ErrNotFound, ssid)
			}
			return "", fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return secret, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.local[ssid]
	if !ok {
		return "", fmt.Errorf("%w: credentials for %q", common.ErrNotFound, ssid)
	}
	return secret, nil
}

// Delete removes the secret for ssid. Deleting an unknown SSID is not an error.
func (s *Store) Delete(ssid string) error {
	if err := common.ValidateSSID(ssid); err != nil {
		return err
	}

	if s.backend == BackendSystem {
		if err := keyring.Delete(s.service, ssid); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.local[ssid]; !ok {
		return nil
	}
	delete(s.local, ssid)
	return s.save()
}

// Clear removes every stored credential.
func (s *Store) Clear() error {
	if s.backend == BackendSystem {
		if err := keyring.DeleteAll(s.service); err != nil {
			return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = make(map[string]string)
	return s.save()
}

// save writes the local map. Callers hold s.mu.
func (s *Store) save() error {
	data, err := json.Marshal(s.local)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	encrypted, err := s.encrypt(data)
	if err != nil {
		return err
	}
	if err := common.WriteFileAtomic(s.path, encrypted, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plaintext, nil
}

func (s *Store) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	return gcm, nil
}
