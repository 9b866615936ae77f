// config/duration.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JSONDuration is a time.Duration that reads and writes human readable strings such as
// "500ms" or "2m" in JSON. Plain numbers are accepted as nanoseconds.
type JSONDuration time.Duration

// Duration returns the value as a time.Duration.
func (d JSONDuration) Duration() time.Duration {
	return time.Duration(d)
}

// String formats the duration the way time.Duration does.
func (d JSONDuration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d JSONDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *JSONDuration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = JSONDuration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = JSONDuration(parsed)
		return nil
	default:
		return errors.New("invalid duration")
	}
}

// ParseJSONDuration parses value, returning defaultVal when it is not a valid duration.
func ParseJSONDuration(value string, defaultVal JSONDuration) JSONDuration {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultVal
	}
	return JSONDuration(parsed)
}
