package discovery

import (
	"net"
	"testing"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
)

func TestTXTRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		info ServerInfo
		want []string
	}{
		{
			name: "both ports",
			info: ServerInfo{TCPPort: 1735, WSPort: 5810},
			want: []string{"tcpport=1735", "wsport=5810"},
		},
		{
			name: "websocket only",
			info: ServerInfo{WSPort: 5810},
			want: []string{"wsport=5810"},
		},
		{
			name: "tcp only",
			info: ServerInfo{TCPPort: 1735},
			want: []string{"tcpport=1735"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txt := encodeTXT(tt.info)
			assert.Equal(t, tt.want, txt)

			tcpPort, wsPort := decodeTXT(txt)
			assert.Equal(t, tt.info.TCPPort, tcpPort)
			assert.Equal(t, tt.info.WSPort, wsPort)
		})
	}
}

func TestDecodeTXTIgnoresGarbage(t *testing.T) {
	tcpPort, wsPort := decodeTXT([]string{
		"noequals",
		"tcpport=notanumber",
		"tcpport=99999",
		"wsport=5810",
		"extra=1",
	})
	assert.Equal(t, uint16(0), tcpPort)
	assert.Equal(t, uint16(5810), wsPort)
}

func TestEntryToService(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "robot-server"},
		HostName:      "robot.local.",
		Port:          5810,
		Text:          []string{"tcpport=1735", "wsport=5810"},
		AddrIPv4:      []net.IP{net.ParseIP("10.0.0.2")},
	}

	svc := entryToService(entry)
	assert.Equal(t, "robot-server", svc.Name)
	assert.Equal(t, uint16(1735), svc.TCPPort)
	assert.Equal(t, uint16(5810), svc.WSPort)
	assert.Equal(t, "robot.local.", svc.Hostname)
	assert.Len(t, svc.Addresses, 1)
}

func TestEntryToServiceSRVFallback(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "bare"},
		Port:          5810,
	}
	svc := entryToService(entry)
	assert.Equal(t, uint16(5810), svc.WSPort)
	assert.Equal(t, uint16(0), svc.TCPPort)
}

func TestMergeAddresses(t *testing.T) {
	a := []net.IP{net.ParseIP("10.0.0.1")}
	b := []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")}
	merged := mergeAddresses(a, b)
	assert.Len(t, merged, 2)
}

func TestAdvertiserRequiresPort(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{})
	assert.Error(t, a.Advertise(ServerInfo{Name: "empty"}))
	assert.ErrorIs(t, a.Stop(), ErrNotAdvertising)
}
