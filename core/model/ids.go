package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ActorID identifies a driver, company or end user. Identities are issued by
// the upstream backend and never generated by the relay.
type ActorID string

// ConnID identifies a live transport session. It is invalidated on disconnect.
type ConnID string

// RequestID identifies a dispatch request. It is supplied by the caller and
// must be unique among in-flight requests.
type RequestID string

// UnmarshalJSON accepts both JSON strings and numbers since the backend
// emits integer user ids.
func (a *ActorID) UnmarshalJSON(b []byte) error {
	s, err := looseString(b)
	if err != nil {
		return fmt.Errorf("actor id: %w", err)
	}
	*a = ActorID(s)
	return nil
}

// UnmarshalJSON accepts both JSON strings and numbers.
func (r *RequestID) UnmarshalJSON(b []byte) error {
	s, err := looseString(b)
	if err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	*r = RequestID(s)
	return nil
}

func looseString(b []byte) (string, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
