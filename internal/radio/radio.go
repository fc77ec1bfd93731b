// Package radio abstracts the transceiver. The session layer talks to
// this interface only; hardware bindings and the in-process simulator
// both sit behind it.
package radio

import (
	"errors"
	"time"

	"github.com/jeongseonghan/radiolink/internal/link"
)

// ErrNotConfigured is returned by Transmit before the first Configure.
var ErrNotConfigured = errors.New("radio: not configured")

// Packet is one received radio frame together with the receive-time
// energy reading.
type Packet struct {
	Data []byte
	// EDV is the energy-detection value captured with the frame, dBm.
	EDV float64
	// RSSI is the received signal strength of the frame, dBm.
	RSSI float64
	// At is the receive timestamp.
	At time.Time
}

// Radio is the hardware abstraction the session drives. Implementations
// are owned by a single module worker; none of the methods need to be
// safe for concurrent use.
type Radio interface {
	// Configure applies a link profile. Called lazily, only when the
	// controller actually changed the profile.
	Configure(p link.Profile) error

	// Transmit hands one encoded frame to the transceiver. Returning
	// nil means the frame left the host, not that it was received.
	Transmit(data []byte) error

	// Receive returns the next pending frame, if any. Non-blocking.
	Receive() (*Packet, bool)

	// EnergyDetection samples the current channel energy in dBm.
	EnergyDetection() float64

	// Close releases the transceiver.
	Close() error
}
