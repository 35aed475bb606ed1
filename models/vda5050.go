package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VDA5050 protocol defaults used when a payload or a config leaves them out.
const (
	DefaultInterface   = "uagv"
	DefaultVersion     = "v2"
	DefaultFullVersion = "2.0.0"
)

// ConnectionState is the value carried on the connection channel.
type ConnectionState string

const (
	ConnectionOnline  ConnectionState = "ONLINE"
	ConnectionOffline ConnectionState = "OFFLINE"
	ConnectionBroken  ConnectionState = "CONNECTIONBROKEN"
)

// Valid reports whether s is one of the three protocol values.
func (s ConnectionState) Valid() bool {
	switch s {
	case ConnectionOnline, ConnectionOffline, ConnectionBroken:
		return true
	}
	return false
}

// BlockingType is carried on every action. The simulator never enforces it.
type BlockingType string

const (
	BlockingNone BlockingType = "NONE"
	BlockingSoft BlockingType = "SOFT"
	BlockingHard BlockingType = "HARD"
)

// ActionStatus values reported in State.actionStates.
const (
	ActionWaiting      = "WAITING"
	ActionInitializing = "INITIALIZING"
	ActionRunning      = "RUNNING"
	ActionPaused       = "PAUSED"
	ActionFinished     = "FINISHED"
	ActionFailed       = "FAILED"
)

// Operating modes.
const (
	OperatingModeAutomatic     = "AUTOMATIC"
	OperatingModeSemiAutomatic = "SEMIAUTOMATIC"
	OperatingModeManual        = "MANUAL"
)

// Action types understood by the simulator.
const (
	ActionTypeInitPosition = "initPosition"
)

// Header is the common head of every VDA5050 message.
type Header struct {
	HeaderID     int64  `json:"headerId"`
	Timestamp    string `json:"timestamp"`
	Version      string `json:"version"`
	Manufacturer string `json:"manufacturer"`
	SerialNumber string `json:"serialNumber"`
}

// Timestamp returns the current UTC time in the protocol's ISO 8601 form.
func Timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// FlexFloat decodes a JSON number, a numeric string or null.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("%w: bad string %s", ErrMalformedPayload, s)
		}
		s = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", ErrMalformedPayload, s)
	}
	*f = FlexFloat(v)
	return nil
}

// ParamFloat converts an action parameter value to float64. Clients send
// numbers, numeric strings or json.Number depending on their encoder.
func ParamFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// ParamString converts an action parameter value to a string.
func ParamString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}
