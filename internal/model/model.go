package model

import (
	"fmt"
	"net"
	"time"
)

// MAC is a 6-byte link-layer address. It is a value type so it can key maps.
type MAC [6]byte

// ParseMAC parses a textual MAC address in any of the forms net.ParseMAC
// accepts. EUI-64 and InfiniBand addresses are rejected.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	if len(hw) != 6 {
		return MAC{}, fmt.Errorf("not a 6-byte MAC address: %q", s)
	}
	var m MAC
	copy(m[:], hw)
	return m, nil
}

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// Sample kinds.
const (
	SampleRate = "rate"
	SampleRSSI = "rssi"
)

// Sample is a single per-peer measurement emitted by the engine.
type Sample struct {
	Timestamp time.Time
	Peer      MAC
	Kind      string // rate|rssi
	RateBps   uint64
	RSSI      int
	Connected bool
}
