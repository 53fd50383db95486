package market

import "fmt"

// Side is the direction of a position, long or short.
type Side int8

const (
	Long  Side = 1
	Short Side = -1
)

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("Side(%d)", int8(s))
	}
}

// Sign returns +1 for long, -1 for short, as a float64 multiplier for
// directional price math.
func (s Side) Sign() float64 {
	return float64(s)
}

// Opposite returns the closing direction.
func (s Side) Opposite() Side {
	return -s
}

// Valid reports whether s is Long or Short.
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// ParseSide maps "long"/"buy" and "short"/"sell" to a Side.
func ParseSide(v string) (Side, error) {
	switch v {
	case "long", "buy", "LONG", "BUY":
		return Long, nil
	case "short", "sell", "SHORT", "SELL":
		return Short, nil
	default:
		return 0, fmt.Errorf("invalid side %q", v)
	}
}
