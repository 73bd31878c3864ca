package wifi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTerse(t *testing.T) {
	tests := []struct {
		line     string
		expected []string
	}{
		{`CafeWiFi:AA\:BB\:CC\:DD\:EE\:FF:WPA2:72`, []string{"CafeWiFi", "AA:BB:CC:DD:EE:FF", "WPA2", "72"}},
		{`Net\:work:::`, []string{"Net:work", "", "", ""}},
		{`back\\slash:x`, []string{`back\slash`, "x"}},
		{``, []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.expected, splitTerse(tt.line))
		})
	}
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in       string
		expected Signal
	}{
		{"72", Signal{72, SignalUnitPercent}},
		{"72%", Signal{72, SignalUnitPercent}},
		{"0", Signal{0, SignalUnitPercent}},
		{"100", Signal{100, SignalUnitPercent}},
		{"-52", Signal{-52, SignalUnitDBm}},
		{"-52 dBm", Signal{-52, SignalUnitDBm}},
		{"-67.5dBm", Signal{-67, SignalUnitDBm}},
		{"", Signal{}},
		{"--", Signal{}},
		{"250", Signal{}},
		{"150%", Signal{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseSignal(tt.in))
		})
	}
}

func TestParseSecurity(t *testing.T) {
	tests := []struct {
		in       string
		expected SecurityType
	}{
		{"", SecurityOpen},
		{"--", SecurityOpen},
		{"WEP", SecurityWEP},
		{"WPA2", SecurityWPAPersonal},
		{"WPA1 WPA2", SecurityWPAPersonal},
		{"WPA3", SecurityWPAPersonal},
		{"WPA2 802.1X", SecurityWPAEnterprise},
		{"OWE", SecurityOpen},
		{"QUANTUM", SecurityUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseSecurity(tt.in))
		})
	}
}

func TestParseScanOutput(t *testing.T) {
	out := `CafeWiFi:AA\:BB\:CC\:DD\:EE\:01::45
CafeWiFi:aa\:bb\:cc\:dd\:ee\:02::72
HomeWiFi:AA\:BB\:CC\:DD\:EE\:03:WPA2:88
:AA\:BB\:CC\:DD\:EE\:04:WPA2:90
TravelNet-Portal:AA\:BB\:CC\:DD\:EE\:05:WPA2:99
this line is garbage
-evil:AA\:BB\:CC\:DD\:EE\:06::50
Office:AA\:BB\:CC\:DD\:EE\:07:WPA2 802.1X:
`
	networks := parseScanOutput(out, "TravelNet-Portal")
	require.Len(t, networks, 3)

	assert.Equal(t, "HomeWiFi", networks[0].SSID)
	assert.Equal(t, SecurityWPAPersonal, networks[0].Security)

	cafe := networks[1]
	assert.Equal(t, "CafeWiFi", cafe.SSID)
	assert.Equal(t, Signal{72, SignalUnitPercent}, cafe.Signal, "duplicates keep the strongest BSSID")
	assert.Equal(t, "AA:BB:CC:DD:EE:02", cafe.BSSID)
	assert.Equal(t, SecurityOpen, cafe.Security)

	office := networks[2]
	assert.Equal(t, "Office", office.SSID)
	assert.False(t, office.Signal.Known(), "missing signal defaults to unknown")
	assert.Equal(t, SecurityWPAEnterprise, office.Security)
}

func TestParseScanOutput_FailsOpen(t *testing.T) {
	assert.Empty(t, parseScanOutput(""))
	assert.Empty(t, parseScanOutput("Error: NetworkManager is not running.\n"))
	assert.Empty(t, parseScanOutput("\x00\x01\x02"))
}

func TestParseLinkStatus(t *testing.T) {
	connected := parseLinkStatus("GENERAL.STATE:100 (connected)\nGENERAL.CONNECTION:CafeWiFi\nIP4.ADDRESS[1]:192.168.1.50/24\nIP4.ADDRESS[2]:10.0.0.9/8\n")
	assert.Equal(t, LinkStatus{Connected: true, Connection: "CafeWiFi", IPAddress: "192.168.1.50"}, connected)

	down := parseLinkStatus("GENERAL.STATE:30 (disconnected)\nGENERAL.CONNECTION:--\n")
	assert.Equal(t, LinkStatus{}, down)

	escaped := parseLinkStatus("GENERAL.STATE:100 (connected)\nGENERAL.CONNECTION:Net\\:work\n")
	assert.Equal(t, "Net:work", escaped.Connection)

	assert.Equal(t, LinkStatus{}, parseLinkStatus("garbage"))
}

func TestMatchesSSID(t *testing.T) {
	assert.True(t, matchesSSID("CafeWiFi", "CafeWiFi"))
	assert.True(t, matchesSSID("CafeWiFi 2", "CafeWiFi"))
	assert.False(t, matchesSSID("CafeWiFi Guest", "CafeWiFi"))
	assert.False(t, matchesSSID("Cafe", "CafeWiFi"))
}

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		stderr   string
		contains string
	}{
		{"Error: Connection activation failed: (7) Secrets were required, but not provided.", "authentication"},
		{"Error: No network with SSID 'Nope' found.", "not found"},
		{"Error: Device 'wlan9' not found.", "adapter"},
		{"Error: Timeout expired (90 seconds)", "timed out"},
		{"Error: something else", "connection failed"},
	}
	for _, tt := range tests {
		t.Run(tt.contains, func(t *testing.T) {
			assert.Contains(t, classifyConnectError(tt.stderr), tt.contains)
		})
	}
}

func TestAssociationState_String(t *testing.T) {
	st := AssociationState{Phase: PhaseConnected, SSID: "CafeWiFi", IPAddress: "192.168.1.50", Signal: Signal{72, SignalUnitPercent}}
	assert.Equal(t, "Connected(CafeWiFi, 192.168.1.50, 72%)", st.String())
	assert.Equal(t, "Disconnected", AssociationState{}.String())
	assert.Equal(t, "Failed(X, boom)", AssociationState{Phase: PhaseFailed, SSID: "X", Reason: "boom"}.String())
}
