package context

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Credentials is the opaque key/value mapping a caller supplies for one gateway
// call. Each gateway names the keys it needs; values are never inspected here.
type Credentials map[string]string

// UnmarshalJSON accepts any scalar value and keeps it as a string. Numbers keep
// their literal text, so a merchant ID sent as 496160873888 is unchanged.
func (c *Credentials) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	out := make(Credentials, len(raw))
	for key, value := range raw {
		s, err := scalarString(value)
		if err != nil {
			return fmt.Errorf("credential %q: %w", key, err)
		}
		out[key] = s
	}
	*c = out
	return nil
}

func scalarString(value json.RawMessage) (string, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return "", fmt.Errorf("empty value")
	}
	switch value[0] {
	case '"':
		var s string
		err := json.Unmarshal(value, &s)
		return s, err
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case 'n', '{', '[':
		return "", fmt.Errorf("expected a scalar, got %s", value)
	default:
		var n json.Number
		if err := json.Unmarshal(value, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}

// Missing returns the required keys absent from c, sorted for stable messages.
// A key that is present with an empty value counts as present.
func (c Credentials) Missing(required []string) []string {
	var missing []string
	for _, key := range required {
		if _, ok := c[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// Get returns the value for key, or "" if absent.
func (c Credentials) Get(key string) string {
	return c[key]
}
