package stream

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/rs/xid"
)

// Frame is what travels on the wire: an event name and its envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event name")
	}
	return f, nil
}

// resolvePeerID prefers the client's device id header and falls back to a
// fresh session id. A header-less client that reconnects gets a new id.
func resolvePeerID(header string) (id string, fallback bool) {
	if h := strings.TrimSpace(header); h != "" {
		return h, false
	}
	return xid.New().String(), true
}

// dialableHost rewrites wildcard listen hosts to loopback.
func dialableHost(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
