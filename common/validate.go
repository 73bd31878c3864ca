package common

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	tunnelNamePattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	interfaceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,15}$`)
	hexKeyPattern        = regexp.MustCompile(`^[0-9A-Fa-f]{64}$`)
)

// MaxSSIDLength is the 802.11 limit in bytes.
const MaxSSIDLength = 32

// ValidateSSID checks an SSID before it is placed in an argument vector.
// SSIDs are 1-32 bytes of valid UTF-8 without control characters, and
// may not start with '-' so they can never be read as an option.
func ValidateSSID(ssid string) error {
	if ssid == "" {
		return NewValidationError("ssid", "must not be empty")
	}
	if len(ssid) > MaxSSIDLength {
		return NewValidationError("ssid", "must be at most %d bytes", MaxSSIDLength)
	}
	if !utf8.ValidString(ssid) {
		return NewValidationError("ssid", "must be valid UTF-8")
	}
	if strings.HasPrefix(ssid, "-") {
		return NewValidationError("ssid", "must not start with '-'")
	}
	for _, r := range ssid {
		if r < 0x20 || r == 0x7f {
			return NewValidationError("ssid", "must not contain control characters")
		}
	}
	return nil
}

// ValidateTunnelName checks a tunnel configuration name. Names double as
// file names so only [A-Za-z0-9_-] is accepted.
func ValidateTunnelName(name string) error {
	if !tunnelNamePattern.MatchString(name) {
		return NewValidationError("tunnel name", "must be 1-64 characters of letters, digits, '_' or '-'")
	}
	return nil
}

// ValidatePassword checks a WPA passphrase: 8-63 printable ASCII
// characters, or a raw 64 hex digit PSK.
func ValidatePassword(password string) error {
	if hexKeyPattern.MatchString(password) {
		return nil
	}
	if len(password) < 8 || len(password) > 63 {
		return NewValidationError("password", "must be 8-63 characters")
	}
	for i := 0; i < len(password); i++ {
		if password[i] < 0x20 || password[i] > 0x7e {
			return NewValidationError("password", "must contain printable ASCII only")
		}
	}
	return nil
}

// ValidateInterfaceName checks a network interface name from configuration.
func ValidateInterfaceName(name string) error {
	if !interfaceNamePattern.MatchString(name) || strings.HasPrefix(name, "-") {
		return NewValidationError("interface", "%q is not a valid interface name", name)
	}
	return nil
}
