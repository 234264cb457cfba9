package service

import (
	"encoding/json"
	"fmt"
	"time"

	"admission-control/internal/domain"
)

// decodeValue decodifica um valor do store; nil ou vazio resulta no valor zero
func decodeValue[T any](path string, raw []byte) (T, error) {
	var value T
	if len(raw) == 0 {
		return value, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return value, nil
}

// encodeValue serializa um valor para o store
func encodeValue(path string, value interface{}) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return raw, nil
}

func systemClock(clock domain.Clock) domain.Clock {
	if clock == nil {
		return time.Now
	}
	return clock
}

func validIdentifier(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s must not be empty", domain.ErrInvalidRequest, kind)
	}
	return nil
}
