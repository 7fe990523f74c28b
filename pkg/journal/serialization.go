package journal

import (
	"encoding/json"
	"fmt"
)

// MarshalAttempt serializes an Attempt to JSON bytes.
func MarshalAttempt(attempt *Attempt) ([]byte, error) {
	if attempt == nil {
		return nil, fmt.Errorf("cannot marshal nil Attempt")
	}
	return json.Marshal(attempt)
}

// UnmarshalAttempt deserializes an Attempt from JSON bytes.
func UnmarshalAttempt(data []byte) (*Attempt, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var attempt Attempt
	if err := json.Unmarshal(data, &attempt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to Attempt: %w", err)
	}
	return &attempt, nil
}
