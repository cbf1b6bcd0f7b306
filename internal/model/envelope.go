package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EventRecv is the single event name carrying all application traffic.
const EventRecv = "recv"

var ErrMalformedEnvelope = errors.New("malformed envelope")

type Kind int

const (
	KindUnknown Kind = iota
	KindPayload
	KindStats
)

func (k Kind) String() string {
	switch k {
	case KindPayload:
		return "payload"
	case KindStats:
		return "stats"
	default:
		return "unknown"
	}
}

// Payload is one unit of work flowing IoT -> Edge -> Cloud.
type Payload struct {
	Architecture Architecture    `json:"architecture"`
	DataSize     int64           `json:"data_size"`
	DataSource   string          `json:"data_source"`
	Algorithm    string          `json:"algorithm"`
	Data         json.RawMessage `json:"data"`
	Iterations   int             `json:"iterations"`
	IoTDeviceID  string          `json:"iot_device_id,omitempty"`
}

// StatsReport carries the sender's own accumulated times in seconds.
type StatsReport struct {
	AccTransmission float64 `json:"acc_transtime"`
	AccProcessing   float64 `json:"acc_proctime"`
	DeviceID        string  `json:"device_id,omitempty"`
}

// Envelope is transport-agnostic framing for the recv event. Exactly one of
// Payload and Stats is set.
type Envelope struct {
	Payload *Payload
	Stats   *StatsReport
}

func NewPayloadEnvelope(p Payload) Envelope {
	return Envelope{Payload: &p}
}

func NewStatsEnvelope(r StatsReport) Envelope {
	return Envelope{Stats: &r}
}

func (e Envelope) Kind() Kind {
	switch {
	case e.Payload != nil && e.Stats == nil:
		return KindPayload
	case e.Stats != nil && e.Payload == nil:
		return KindStats
	default:
		return KindUnknown
	}
}

func (e Envelope) Validate() error {
	if e.Kind() == KindUnknown {
		return fmt.Errorf("%w: exactly one of payload or stats must be set", ErrMalformedEnvelope)
	}
	if e.Payload != nil {
		if isNull(e.Payload.Data) {
			return fmt.Errorf("%w: payload without data", ErrMalformedEnvelope)
		}
		if !e.Payload.Architecture.Valid() {
			return fmt.Errorf("%w: payload architecture %q", ErrMalformedEnvelope, e.Payload.Architecture)
		}
	}
	return nil
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Payload != nil {
		return json.Marshal(e.Payload)
	}
	return json.Marshal(e.Stats)
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var probe struct {
		Data            json.RawMessage `json:"data"`
		AccTransmission *float64        `json:"acc_transtime"`
		AccProcessing   *float64        `json:"acc_proctime"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch {
	case !isNull(probe.Data):
		var p Payload
		if err := json.Unmarshal(b, &p); err != nil {
			return fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err)
		}
		arch, err := ParseArchitecture(string(p.Architecture))
		if err != nil {
			return fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err)
		}
		p.Architecture = arch
		*e = Envelope{Payload: &p}
	case probe.AccTransmission != nil && probe.AccProcessing != nil:
		var r StatsReport
		if err := json.Unmarshal(b, &r); err != nil {
			return fmt.Errorf("%w: stats: %v", ErrMalformedEnvelope, err)
		}
		*e = Envelope{Stats: &r}
	default:
		return fmt.Errorf("%w: neither data nor accumulated times present", ErrMalformedEnvelope)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
