package ping

import (
	"fmt"
	"math"
	"os"
	"time"
)

// Config holds configuration for an echo session.
type Config struct {
	// MaxEchoes bounds the session. Sequence numbers 0 through MaxEchoes
	// are sent, so a session issues MaxEchoes+1 requests. Zero sends none.
	// Sequence numbers are 16 bits, so MaxEchoes may not exceed 65535.
	MaxEchoes int

	// Interval is the pacing delay armed before every send.
	// Default is 1 second.
	Interval time.Duration

	// MinInterval is a floor on the time between two sends, enforced
	// independently of Interval. 0 means no floor.
	MinInterval time.Duration

	// BufferSize is the receive buffer for one datagram.
	// Default is 65536.
	BufferSize int

	// Identifier is the echo identifier stamped on every request.
	// nil means derive it from the process id. Sockets that own the
	// identifier themselves (unprivileged ICMP) override it.
	Identifier *uint16
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxEchoes:  10,
		Interval:   time.Second,
		BufferSize: 65536,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MaxEchoes < 0 {
		return fmt.Errorf("max echoes must not be negative: %d", c.MaxEchoes)
	}
	if c.MaxEchoes > math.MaxUint16 {
		return fmt.Errorf("max echoes must not exceed %d: %d", math.MaxUint16, c.MaxEchoes)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative: %v", c.Interval)
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("min interval must not be negative: %v", c.MinInterval)
	}
	if c.BufferSize < 64 {
		return fmt.Errorf("buffer size must be at least 64 bytes: %d", c.BufferSize)
	}
	return nil
}

// defaultIdentifier returns the low 16 bits of the process id.
func defaultIdentifier() uint16 {
	return uint16(os.Getpid() & 0xFFFF)
}
