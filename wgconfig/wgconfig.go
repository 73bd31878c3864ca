// Package wgconfig parses and validates WireGuard configuration text
// before it is stored or handed to wg-quick.
//
// Validation is deliberately strict. wg-quick runs PreUp/PostUp/PreDown/
// PostDown values through a root shell, so any config carrying them is
// rejected, as are unknown sections and keys.
package wgconfig

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/curve25519"

	"github.com/yllada/travelnet/common"
)

// KeyLen is the length of a Curve25519 key in bytes.
const KeyLen = 32

// Config is the validated structure of a WireGuard config file.
type Config struct {
	// PublicKey is derived from the interface PrivateKey.
	PublicKey  string
	Addresses  []netip.Prefix
	DNS        []string
	ListenPort int
	MTU        int
	Peers      []Peer
}

// Peer is one [Peer] section.
type Peer struct {
	PublicKey           string
	Endpoint            string
	AllowedIPs          []netip.Prefix
	PersistentKeepalive time.Duration
	HasPresharedKey     bool
}

// Error describes why a config was rejected. It matches both
// common.ErrInvalidConfig and common.ErrValidation.
type Error struct {
	Line   int
	Reason string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid tunnel configuration: line %d: %s", e.Line, e.Reason)
	}
	return "invalid tunnel configuration: " + e.Reason
}

// Is matches the shared taxonomy.
func (e *Error) Is(target error) bool {
	return target == common.ErrInvalidConfig || target == common.ErrValidation
}

func errorf(line int, format string, args ...interface{}) *Error {
	return &Error{Line: line, Reason: fmt.Sprintf(format, args...)}
}

var forbiddenKeys = map[string]bool{
	"preup":    true,
	"postup":   true,
	"predown":  true,
	"postdown": true,
}

// Parse validates text and returns its structure.
func Parse(text string) (*Config, error) {
	if len(text) > common.MaxTunnelConfigSize {
		return nil, errorf(0, "larger than %d bytes", common.MaxTunnelConfigSize)
	}
	if strings.ContainsRune(text, 0) {
		return nil, errorf(0, "contains NUL bytes")
	}

	cfg := &Config{}
	var (
		section      string
		sawInterface bool
		privateKey   string
		peer         *Peer
		peerLine     int
	)

	finishPeer := func() error {
		if peer == nil {
			return nil
		}
		if peer.PublicKey == "" {
			return errorf(peerLine, "[Peer] is missing PublicKey")
		}
		if peer.Endpoint == "" {
			return errorf(peerLine, "[Peer] is missing Endpoint")
		}
		cfg.Peers = append(cfg.Peers, *peer)
		peer = nil
		return nil
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, errorf(lineNo, "malformed section header %q", line)
			}
			if err := finishPeer(); err != nil {
				return nil, err
			}
			switch name := strings.ToLower(strings.TrimSpace(line[1 : len(line)-1])); name {
			case "interface":
				if sawInterface {
					return nil, errorf(lineNo, "duplicate [Interface] section")
				}
				sawInterface = true
				section = name
			case "peer":
				section = name
				peer = &Peer{}
				peerLine = lineNo
			default:
				return nil, errorf(lineNo, "unknown section %q", line)
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, errorf(lineNo, "expected key = value")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if forbiddenKeys[key] {
			return nil, errorf(lineNo, "%s hooks are not allowed", strings.TrimSpace(line[:strings.IndexByte(line, '=')]))
		}

		var err *Error
		switch section {
		case "interface":
			err = cfg.setInterfaceKey(lineNo, key, value, &privateKey)
		case "peer":
			err = peer.setKey(lineNo, key, value)
		default:
			err = errorf(lineNo, "key outside of a section")
		}
		if err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errorf(0, "%v", err)
	}
	if err := finishPeer(); err != nil {
		return nil, err
	}

	if !sawInterface {
		return nil, errorf(0, "missing [Interface] section")
	}
	if privateKey == "" {
		return nil, errorf(0, "[Interface] is missing PrivateKey")
	}
	if len(cfg.Peers) == 0 {
		return nil, errorf(0, "at least one [Peer] section is required")
	}

	pub, err := derivePublicKey(privateKey)
	if err != nil {
		return nil, errorf(0, "PrivateKey: %v", err)
	}
	cfg.PublicKey = pub
	return cfg, nil
}

func (c *Config) setInterfaceKey(line int, key, value string, privateKey *string) *Error {
	switch key {
	case "privatekey":
		if _, err := decodeKey(value); err != nil {
			return errorf(line, "PrivateKey: %v", err)
		}
		*privateKey = value
	case "address":
		for _, item := range splitList(value) {
			prefix, err := parsePrefixOrAddr(item)
			if err != nil {
				return errorf(line, "Address %q: %v", item, err)
			}
			c.Addresses = append(c.Addresses, prefix)
		}
	case "dns":
		c.DNS = append(c.DNS, splitList(value)...)
	case "listenport":
		port, err := parsePort(value)
		if err != nil {
			return errorf(line, "ListenPort: %v", err)
		}
		c.ListenPort = port
	case "mtu":
		mtu, err := strconv.Atoi(value)
		if err != nil || mtu < 576 || mtu > 65535 {
			return errorf(line, "MTU must be between 576 and 65535")
		}
		c.MTU = mtu
	case "table", "fwmark":
		if value == "" {
			return errorf(line, "%s must not be empty", key)
		}
	case "saveconfig":
		if strings.EqualFold(value, "true") {
			return errorf(line, "SaveConfig = true is not allowed")
		}
	default:
		return errorf(line, "unknown [Interface] key %q", key)
	}
	return nil
}

func (p *Peer) setKey(line int, key, value string) *Error {
	switch key {
	case "publickey":
		if _, err := decodeKey(value); err != nil {
			return errorf(line, "PublicKey: %v", err)
		}
		p.PublicKey = value
	case "presharedkey":
		if _, err := decodeKey(value); err != nil {
			return errorf(line, "PresharedKey: %v", err)
		}
		p.HasPresharedKey = true
	case "endpoint":
		host, port, err := net.SplitHostPort(value)
		if err != nil || host == "" {
			return errorf(line, "Endpoint must be host:port")
		}
		if _, err := parsePort(port); err != nil {
			return errorf(line, "Endpoint: %v", err)
		}
		p.Endpoint = value
	case "allowedips":
		for _, item := range splitList(value) {
			prefix, err := parsePrefixOrAddr(item)
			if err != nil {
				return errorf(line, "AllowedIPs %q: %v", item, err)
			}
			p.AllowedIPs = append(p.AllowedIPs, prefix)
		}
	case "persistentkeepalive":
		if strings.EqualFold(value, "off") {
			p.PersistentKeepalive = 0
			return nil
		}
		secs, err := strconv.Atoi(value)
		if err != nil || secs < 0 || secs > 65535 {
			return errorf(line, "PersistentKeepalive must be off or 0-65535")
		}
		p.PersistentKeepalive = time.Duration(secs) * time.Second
	default:
		return errorf(line, "unknown [Peer] key %q", key)
	}
	return nil
}

// Keepalive returns the largest PersistentKeepalive across peers, or
// zero when none is configured.
func (c *Config) Keepalive() time.Duration {
	var max time.Duration
	for _, p := range c.Peers {
		if p.PersistentKeepalive > max {
			max = p.PersistentKeepalive
		}
	}
	return max
}

// Endpoints lists the peer endpoints in file order.
func (c *Config) Endpoints() []string {
	out := make([]string, 0, len(c.Peers))
	for _, p := range c.Peers {
		out = append(out, p.Endpoint)
	}
	return out
}

// Redact returns text with PrivateKey and PresharedKey values masked.
func Redact(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		key, _, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "privatekey", "presharedkey":
			lines[i] = strings.TrimRight(key, " \t") + " = (redacted)"
		}
	}
	return strings.Join(lines, "\n")
}

func decodeKey(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not valid base64")
	}
	if len(b) != KeyLen {
		return nil, fmt.Errorf("must decode to %d bytes, got %d", KeyLen, len(b))
	}
	return b, nil
}

func derivePublicKey(privateKey string) (string, error) {
	priv, err := decodeKey(privateKey)
	if err != nil {
		return "", err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

// PublicKey derives the public key for a base64 private key.
func PublicKey(privateKey string) (string, error) {
	return derivePublicKey(privateKey)
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parsePrefixOrAddr(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("port must be 1-65535")
	}
	return port, nil
}
