package config

import (
	"encoding/json"
	"fmt"
)

// toMap renders a settings struct in storage form.
func toMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return map[string]interface{}{}
	}
	return data
}

// fromMap applies storage-form data onto a settings struct. Keys absent from
// the data leave the struct's current values in place.
func fromMap(data map[string]interface{}, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode section data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode section data: %w", err)
	}
	return nil
}
