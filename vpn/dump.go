package vpn

import (
	"strconv"
	"strings"
	"time"

	"github.com/yllada/travelnet/common"
)

// PeerStatus is one peer line of a wg dump.
type PeerStatus struct {
	PublicKey       string
	Endpoint        string
	LatestHandshake time.Time
	RxBytes         uint64
	TxBytes         uint64
	Keepalive       time.Duration
}

// Observation is a live reading of the tunnel interface.
type Observation struct {
	// Present is false when the interface does not exist.
	Present    bool
	PublicKey  string
	ListenPort int
	Peers      []PeerStatus
}

// LatestHandshake returns the most recent handshake across peers.
func (o Observation) LatestHandshake() time.Time {
	var latest time.Time
	for _, p := range o.Peers {
		if p.LatestHandshake.After(latest) {
			latest = p.LatestHandshake
		}
	}
	return latest
}

// Endpoint returns the endpoint of the peer with the latest handshake,
// falling back to the first peer that has one.
func (o Observation) Endpoint() string {
	var (
		best   string
		bestHS time.Time
	)
	for _, p := range o.Peers {
		if p.Endpoint == "" {
			continue
		}
		if best == "" || p.LatestHandshake.After(bestHS) {
			best, bestHS = p.Endpoint, p.LatestHandshake
		}
	}
	return best
}

// Transfer sums the byte counters of all peers.
func (o Observation) Transfer() (rx, tx uint64) {
	for _, p := range o.Peers {
		rx += p.RxBytes
		tx += p.TxBytes
	}
	return rx, tx
}

// Keepalive returns the largest persistent keepalive across peers.
func (o Observation) Keepalive() time.Duration {
	var max time.Duration
	for _, p := range o.Peers {
		if p.Keepalive > max {
			max = p.Keepalive
		}
	}
	return max
}

// parseDump parses "wg show <iface> dump". The first line describes the
// interface (private key, public key, listen port, fwmark) and every
// following line a peer (public key, preshared key, endpoint, allowed
// ips, latest handshake, rx, tx, keepalive). Unparseable fields are left
// zero. Key material other than public keys is discarded.
func parseDump(out string) Observation {
	obs := Observation{Present: true}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i, line := range lines {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if i == 0 {
			if len(fields) >= 3 {
				obs.PublicKey = fields[1]
				obs.ListenPort, _ = strconv.Atoi(fields[2])
			}
			continue
		}
		if len(fields) < 8 {
			common.LogWarn("Skipping malformed wg dump line %d (%d fields)", i+1, len(fields))
			continue
		}

		peer := PeerStatus{PublicKey: fields[0]}
		if ep := fields[2]; ep != "(none)" {
			peer.Endpoint = ep
		}
		if secs, err := strconv.ParseInt(fields[4], 10, 64); err == nil && secs > 0 {
			peer.LatestHandshake = time.Unix(secs, 0)
		}
		peer.RxBytes, _ = strconv.ParseUint(fields[5], 10, 64)
		peer.TxBytes, _ = strconv.ParseUint(fields[6], 10, 64)
		if ka, err := strconv.Atoi(fields[7]); err == nil && ka > 0 {
			peer.Keepalive = time.Duration(ka) * time.Second
		}
		obs.Peers = append(obs.Peers, peer)
	}
	return obs
}

// isMissingInterface reports whether wg stderr says the interface does
// not exist.
func isMissingInterface(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such device") ||
		strings.Contains(s, "unable to access interface") ||
		strings.Contains(s, "does not exist")
}

const reasonInterfaceExists = "interface already exists"

// classifyTunnelError turns tunnel tool output into a short reason.
func classifyTunnelError(stderr string) string {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "permission denied") || strings.Contains(s, "password is required"):
		return "permission denied, check sudo access"
	case strings.Contains(s, "no such file") || strings.Contains(s, "file not found"):
		return "configuration file not found"
	case strings.Contains(s, "already exists") || strings.Contains(s, "already up"):
		return reasonInterfaceExists
	case strings.Contains(s, "timeout") || strings.Contains(s, "timed out"):
		return "timed out, check the uplink"
	case strings.Contains(s, "unreachable") || strings.Contains(s, "no route"):
		return "server unreachable, check the endpoint"
	case strings.Contains(s, "name or service not known") || strings.Contains(s, "name resolution"):
		return "endpoint name could not be resolved"
	default:
		return "tunnel command failed"
	}
}
