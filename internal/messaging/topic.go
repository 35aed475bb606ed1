package messaging

import (
	"fmt"
	"strings"
)

// Channel names used below a robot's topic prefix.
const (
	ChannelOrder          = "order"
	ChannelInstantActions = "instantActions"
	ChannelState          = "state"
	ChannelVisualization  = "visualization"
	ChannelConnection     = "connection"
)

// Topic addresses one robot: <interface>/<version>/<manufacturer>/<serialNumber>.
type Topic struct {
	Interface    string
	Version      string
	Manufacturer string
	SerialNumber string
}

func (t Topic) Prefix() string {
	return strings.Join([]string{t.Interface, t.Version, t.Manufacturer, t.SerialNumber}, "/")
}

// Channel returns the full topic for one channel of this robot.
func (t Topic) Channel(channel string) string {
	return t.Prefix() + "/" + channel
}

// ParseTopic splits a full topic into the robot address and the channel.
func ParseTopic(topic string) (Topic, string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 {
		return Topic{}, "", fmt.Errorf("invalid topic %q: expected 5 segments, got %d", topic, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Topic{}, "", fmt.Errorf("invalid topic %q: empty segment", topic)
		}
	}
	return Topic{
		Interface:    parts[0],
		Version:      parts[1],
		Manufacturer: parts[2],
		SerialNumber: parts[3],
	}, parts[4], nil
}

// QoS returns the quality of service and retain flag for a channel.
func QoS(channel string) (qos byte, retained bool) {
	switch channel {
	case ChannelConnection:
		return 1, true
	case ChannelOrder, ChannelInstantActions:
		return 1, false
	default:
		return 0, false
	}
}

// MatchTopic reports whether topic matches an MQTT filter with + and #
// wildcards.
func MatchTopic(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
