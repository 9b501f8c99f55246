// Package gpio provides digital input reading with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads one digital input line.
type Reader interface {
	// Read returns the logical level of the line. Active-low lines are
	// already inverted, so true always means "asserted".
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Defaults for a PIR sensor on a Raspberry Pi (BCM numbering).
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 17
)

// Config selects the input line.
type Config struct {
	Chip      string
	Pin       int
	ActiveLow bool
}
