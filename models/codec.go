package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is returned when a payload is not decodable at all.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrInvalidOrder is returned by Order.Validate.
	ErrInvalidOrder = errors.New("invalid order")
)

func expectObject(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: expected a JSON object", ErrMalformedPayload)
	}
	return nil
}

func decodeObject(data []byte, v interface{}) error {
	if err := expectObject(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// DecodeOrder decodes an order payload. Missing fields take their zero or
// protocol default values; unknown fields are ignored.
func DecodeOrder(data []byte) (*Order, error) {
	var o Order
	if err := decodeObject(data, &o); err != nil {
		return nil, err
	}
	o.normalize()
	return &o, nil
}

func DecodeInstantActions(data []byte) (*InstantActions, error) {
	var ia InstantActions
	if err := decodeObject(data, &ia); err != nil {
		return nil, err
	}
	ia.normalize()
	return &ia, nil
}

func DecodeState(data []byte) (*State, error) {
	var s State
	if err := decodeObject(data, &s); err != nil {
		return nil, err
	}
	s.normalize()
	return &s, nil
}

func DecodeConnection(data []byte) (*Connection, error) {
	var c Connection
	if err := decodeObject(data, &c); err != nil {
		return nil, err
	}
	if c.ConnectionState == "" {
		c.ConnectionState = ConnectionOffline
	}
	return &c, nil
}

func DecodeVisualization(data []byte) (*Visualization, error) {
	var v Visualization
	if err := decodeObject(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// DecodeRegistry decodes the registry file: a JSON array of descriptors.
// An empty file is an empty registry.
func DecodeRegistry(data []byte) ([]RobotDescriptor, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []RobotDescriptor{}, nil
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: registry must be a JSON array", ErrMalformedPayload)
	}
	var descs []RobotDescriptor
	if err := json.Unmarshal(trimmed, &descs); err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if descs == nil {
		descs = []RobotDescriptor{}
	}
	return descs, nil
}

// Encode marshals any protocol message.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
