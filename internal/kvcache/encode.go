package kvcache

import (
	"encoding/json"
	"fmt"
)

// encodeMember JSON-encodes v for use as a sorted-set member string.
func encodeMember(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode sorted-set member: %w", err)
	}
	return string(raw), nil
}

// decodeMember decodes a sorted-set member string into dest.
func decodeMember(member string, dest any) error {
	if err := json.Unmarshal([]byte(member), dest); err != nil {
		return fmt.Errorf("decode sorted-set member: %w", err)
	}
	return nil
}
