package driver

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Property keys recognized by OptionsFromProperties. These arrive from the
// process configuration boundary as an untyped map.
const (
	hostPropertyKey           = "host"
	portPropertyKey           = "port"
	deviceUIDPropertyKey      = "device.uid"
	connectTimeoutPropertyKey = "connect.timeout.ms"
)

// DefaultConnectTimeout applies when the configuration does not set one.
const DefaultConnectTimeout = 10 * time.Second

// Options is an immutable snapshot of connection parameters. Replacing the
// snapshot via SetOptions triggers no I/O by itself; callers follow up with
// ReconnectAsync when a live connection must pick up the change.
type Options struct {
	Host           string
	Port           int
	DeviceUID      string
	ConnectTimeout time.Duration
}

// Endpoint returns the host:port form of the remote endpoint.
func (o Options) Endpoint() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// OptionsFromProperties parses a process-boundary properties map into an
// Options snapshot. The map is untyped; numeric values may arrive as int,
// int64, float64, or string depending on the configuration source.
func OptionsFromProperties(props map[string]interface{}) (Options, error) {
	opts := Options{ConnectTimeout: DefaultConnectTimeout}

	host, err := stringProperty(props, hostPropertyKey)
	if err != nil {
		return Options{}, err
	}
	opts.Host = host

	port, err := intProperty(props, portPropertyKey)
	if err != nil {
		return Options{}, err
	}
	if port <= 0 || port > 65535 {
		return Options{}, fmt.Errorf("property %q: port %d out of range", portPropertyKey, port)
	}
	opts.Port = port

	uid, err := stringProperty(props, deviceUIDPropertyKey)
	if err != nil {
		return Options{}, err
	}
	opts.DeviceUID = uid

	if _, ok := props[connectTimeoutPropertyKey]; ok {
		ms, err := intProperty(props, connectTimeoutPropertyKey)
		if err != nil {
			return Options{}, err
		}
		if ms <= 0 {
			return Options{}, fmt.Errorf("property %q: timeout must be positive", connectTimeoutPropertyKey)
		}
		opts.ConnectTimeout = time.Duration(ms) * time.Millisecond
	}

	return opts, nil
}

func stringProperty(props map[string]interface{}, key string) (string, error) {
	v, ok := props[key]
	if !ok {
		return "", fmt.Errorf("missing required property %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("property %q: expected non-empty string, got %v (%T)", key, v, v)
	}
	return s, nil
}

func intProperty(props map[string]interface{}, key string) (int, error) {
	v, ok := props[key]
	if !ok {
		return 0, fmt.Errorf("missing required property %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("property %q: %w", key, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("property %q: expected integer, got %v (%T)", key, v, v)
	}
}
