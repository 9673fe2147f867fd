package bus

import (
	"encoding/json"
	"fmt"
)

// Encode renders e as a flat JSON object with a "type" discriminator taken
// from e.Kind(). Fields of e are kept as marshalled; a "type" field on e is
// overwritten.
func Encode(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Kind(), err)
	}

	fields := map[string]json.RawMessage{}
	if string(raw) != "null" {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("encode %s event: not an object: %w", e.Kind(), err)
		}
	}
	kind, _ := json.Marshal(e.Kind())
	fields["type"] = kind
	return json.Marshal(fields)
}
