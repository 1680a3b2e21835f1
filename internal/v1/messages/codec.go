package messages

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// PeekType validates that frame is a JSON object and extracts its "type"
// discriminator without decoding the whole payload.
func PeekType(frame []byte) (Type, error) {
	if !gjson.ValidBytes(frame) {
		return "", fmt.Errorf("invalid JSON frame")
	}
	tag := gjson.GetBytes(frame, "type")
	if tag.Type != gjson.String || tag.Str == "" {
		return "", fmt.Errorf("missing message type")
	}
	return Type(tag.Str), nil
}

// Decode unmarshals frame into dst after the type tag has been peeked.
func Decode(frame []byte, dst any) error {
	if err := json.Unmarshal(frame, dst); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// Encode marshals a message for the wire. Marshal failures are programming
// errors (all message structs are JSON-safe), so the error is surfaced to the
// caller rather than swallowed.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}
