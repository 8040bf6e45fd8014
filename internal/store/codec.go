package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// encodeList stores an ordered sequence as a JSON array so that no character
// in a message or file id can break the item boundaries.
func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}

func decodeList(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}
