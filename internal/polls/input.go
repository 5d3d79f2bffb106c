package polls

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Flag is a bool that accepts the loose values browsers send: numbers are
// true unless zero, strings are parsed as booleans and otherwise true unless
// empty, objects and arrays are true.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*f = false
	case bool:
		*f = Flag(x)
	case float64:
		*f = Flag(x != 0)
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			*f = Flag(parsed)
		} else {
			*f = Flag(x != "")
		}
	default:
		*f = true
	}
	return nil
}

// Seconds is a poll duration sent as a number or a numeric string. Fractions
// are truncated; zero or null means the default timer.
type Seconds int

func (s *Seconds) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	var n float64
	switch x := v.(type) {
	case nil:
		*s = 0
		return nil
	case float64:
		n = x
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			*s = 0
			return nil
		}
		parsed, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return fmt.Errorf("timer %q is not a number", x)
		}
		n = parsed
	default:
		return fmt.Errorf("timer must be a number, got %s", b)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n > math.MaxInt32 || n < math.MinInt32 {
		return fmt.Errorf("timer %s is out of range", b)
	}
	*s = Seconds(n)
	return nil
}
