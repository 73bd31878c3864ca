package wifi

import (
	"sort"
	"strconv"
	"strings"

	"github.com/yllada/travelnet/common"
)

// splitTerse splits one line of nmcli terse output on unescaped colons
// and removes the escaping.
func splitTerse(line string) []string {
	var (
		fields []string
		cur    strings.Builder
		escape bool
	)
	for _, r := range line {
		switch {
		case escape:
			cur.WriteRune(r)
			escape = false
		case r == '\\':
			escape = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}

// parseSecurity maps the SECURITY column. An empty or "--" value is an
// open network; anything unrecognized is Unknown.
func parseSecurity(s string) SecurityType {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch {
	case s == "" || s == "--":
		return SecurityOpen
	case strings.Contains(s, "802.1X") || strings.Contains(s, "EAP"):
		return SecurityWPAEnterprise
	case strings.Contains(s, "WPA") || strings.Contains(s, "SAE"):
		return SecurityWPAPersonal
	case strings.Contains(s, "WEP"):
		return SecurityWEP
	case strings.Contains(s, "OWE"):
		return SecurityOpen
	default:
		return SecurityUnknown
	}
}

// parseSignal reads a signal value and records its scale. A "%" or
// "dBm" suffix decides the unit; otherwise negative values are dBm and
// 0-100 is a percentage.
func parseSignal(s string) Signal {
	s = strings.TrimSpace(s)
	unit := SignalUnitUnknown
	switch {
	case strings.HasSuffix(s, "%"):
		unit = SignalUnitPercent
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	case strings.HasSuffix(strings.ToLower(s), "dbm"):
		unit = SignalUnitDBm
		s = strings.TrimSpace(s[:len(s)-3])
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return Signal{}
		}
		v = int(f)
	}

	if unit == SignalUnitUnknown {
		switch {
		case v < 0:
			unit = SignalUnitDBm
		case v <= 100:
			unit = SignalUnitPercent
		default:
			return Signal{}
		}
	}
	if unit == SignalUnitPercent && (v < 0 || v > 100) {
		return Signal{}
	}
	return Signal{Value: v, Unit: unit}
}

// parseScanOutput parses "SSID:BSSID:SECURITY:SIGNAL" lines. Malformed
// lines are logged and skipped, so a parse problem yields a shorter list
// rather than an error. Hidden networks and the excluded SSIDs are
// dropped, and repeated SSIDs keep their strongest BSSID.
func parseScanOutput(out string, exclude ...string) []Network {
	skip := make(map[string]bool, len(exclude))
	for _, ssid := range exclude {
		if ssid != "" {
			skip[ssid] = true
		}
	}

	best := make(map[string]Network)
	var order []string
	for i, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := splitTerse(line)
		if len(fields) != 4 {
			common.LogWarn("Skipping malformed scan line %d (%d fields)", i+1, len(fields))
			continue
		}

		ssid := fields[0]
		if ssid == "" || ssid == "--" {
			continue
		}
		if skip[ssid] {
			common.LogDebug("Filtering out own hotspot: %s", ssid)
			continue
		}
		if common.ValidateSSID(ssid) != nil {
			common.LogWarn("Skipping scan line %d: unusable SSID", i+1)
			continue
		}

		n := Network{
			SSID:     ssid,
			BSSID:    strings.ToUpper(fields[1]),
			Security: parseSecurity(fields[2]),
			Signal:   parseSignal(fields[3]),
		}
		prev, seen := best[ssid]
		if !seen {
			order = append(order, ssid)
			best[ssid] = n
			continue
		}
		if n.Signal.Stronger(prev.Signal) {
			best[ssid] = n
		}
	}

	networks := make([]Network, 0, len(order))
	for _, ssid := range order {
		networks = append(networks, best[ssid])
	}
	sort.SliceStable(networks, func(i, j int) bool {
		return networks[i].Signal.Stronger(networks[j].Signal)
	})
	return networks
}

// parseLinkStatus parses "device show" terse output. Missing fields are
// left empty.
func parseLinkStatus(out string) LinkStatus {
	var st LinkStatus
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		value = strings.Join(splitTerse(value), ":")

		switch {
		case key == "GENERAL.STATE":
			code, _, _ := strings.Cut(strings.TrimSpace(value), " ")
			st.Connected = code == "100"
		case key == "GENERAL.CONNECTION":
			if value != "--" {
				st.Connection = strings.TrimSpace(value)
			}
		case strings.HasPrefix(key, "IP4.ADDRESS") && st.IPAddress == "":
			addr, _, _ := strings.Cut(strings.TrimSpace(value), "/")
			st.IPAddress = addr
		}
	}
	return st
}

// matchesSSID reports whether an active connection name belongs to ssid.
// NetworkManager names new profiles after the SSID and appends " 1",
// " 2" and so on when the name is taken.
func matchesSSID(connection, ssid string) bool {
	if connection == ssid {
		return true
	}
	rest, ok := strings.CutPrefix(connection, ssid+" ")
	if !ok {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

// classifyConnectError turns connect tool output into a short reason.
func classifyConnectError(stderr string) string {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "secrets were required") || strings.Contains(s, "authentication"):
		return "authentication failed, check the password"
	case strings.Contains(s, "no network with ssid") || (strings.Contains(s, "not found") && !strings.Contains(s, "device")):
		return "network not found, scan again"
	case strings.Contains(s, "device") && strings.Contains(s, "not found"):
		return "wifi adapter not available"
	case strings.Contains(s, "timeout") || strings.Contains(s, "timed out"):
		return "connection timed out, network may be out of range"
	default:
		return "connection failed"
	}
}
