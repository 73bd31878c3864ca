package vpn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/travelnet/common"
)

func TestParseDump(t *testing.T) {
	out := "cHJpdmF0ZQ==\tSERVERPUB=\t51820\toff\n" +
		"PEER1=\t(none)\t203.0.113.9:51820\t0.0.0.0/0\t1700000000\t1024\t2048\t25\n" +
		"PEER2=\t(none)\t(none)\t10.0.0.0/8\t0\t0\t0\toff\n" +
		"truncated\tline\n"

	obs := parseDump(out)
	assert.True(t, obs.Present)
	assert.Equal(t, "SERVERPUB=", obs.PublicKey)
	assert.Equal(t, 51820, obs.ListenPort)
	require.Len(t, obs.Peers, 2)

	assert.Equal(t, "203.0.113.9:51820", obs.Endpoint())
	assert.Equal(t, time.Unix(1700000000, 0), obs.LatestHandshake())
	assert.Equal(t, 25*time.Second, obs.Keepalive())

	rx, tx := obs.Transfer()
	assert.Equal(t, uint64(1024), rx)
	assert.Equal(t, uint64(2048), tx)

	assert.Empty(t, obs.Peers[1].Endpoint)
	assert.True(t, obs.Peers[1].LatestHandshake.IsZero())
	assert.NotContains(t, obs.PublicKey, "cHJpdmF0ZQ==", "the private key is never retained")
}

func TestParseDump_InterfaceOnly(t *testing.T) {
	obs := parseDump("cHJpdmF0ZQ==\tSERVERPUB=\t51820\toff\n")
	assert.True(t, obs.Present)
	assert.Empty(t, obs.Peers)
	assert.True(t, obs.LatestHandshake().IsZero())
	assert.Empty(t, obs.Endpoint())
}

func TestIsMissingInterface(t *testing.T) {
	assert.True(t, isMissingInterface("Unable to access interface: No such device"))
	assert.True(t, isMissingInterface("Error: device wg0 does not exist"))
	assert.False(t, isMissingInterface("sudo: a password is required"))
}

func TestClassifyTunnelError(t *testing.T) {
	tests := []struct {
		stderr   string
		contains string
	}{
		{"sudo: a password is required", "permission"},
		{"wg-quick: `/etc/wireguard/wg0.conf' does not exist: No such file or directory", "not found"},
		{"wg-quick: `wg0' already exists", "already exists"},
		{"Name or service not known: `vpn.example.net:51820'", "resolved"},
		{"RTNETLINK answers: Network is unreachable", "unreachable"},
		{"something odd", "tunnel command failed"},
	}
	for _, tt := range tests {
		t.Run(tt.contains, func(t *testing.T) {
			assert.Contains(t, classifyTunnelError(tt.stderr), tt.contains)
		})
	}
}

func TestStaleThreshold(t *testing.T) {
	tests := []struct {
		name      string
		factor    int
		keepalive time.Duration
		expected  time.Duration
	}{
		{"default keepalive hits floor", 3, 0, common.MinStaleHandshake},
		{"short keepalive hits floor", 3, 25 * time.Second, common.MinStaleHandshake},
		{"long keepalive", 3, 120 * time.Second, 360 * time.Second},
		{"large factor", 10, 25 * time.Second, 250 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, staleThreshold(tt.factor, tt.keepalive))
		})
	}
}

func TestTunnelState_Err(t *testing.T) {
	assert.NoError(t, TunnelState{Phase: PhaseUp}.Err())
	assert.NoError(t, TunnelState{Phase: PhaseDown, Degraded: true}.Err())
	assert.ErrorIs(t, TunnelState{Phase: PhaseUp, Name: "home", Degraded: true}.Err(), common.ErrDegraded)
}

func TestPhase_String(t *testing.T) {
	tests := []struct {
		phase    Phase
		expected string
	}{
		{PhaseDown, "Down"},
		{PhaseBringingUp, "BringingUp"},
		{PhaseUp, "Up"},
		{PhaseFailed, "Failed"},
		{Phase(99), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.phase.String())
		})
	}
}
