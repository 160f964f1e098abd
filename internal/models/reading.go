package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DecodeStatusSuccess is the only upstream decode status that gets processed
const DecodeStatusSuccess = "success"

// Event represents one uplink from a current sensor as delivered by the network server
type Event struct {
	DevEUI     string  `json:"dev_eui"`
	ReportedAt int64   `json:"reported_at"`
	Decoded    Decoded `json:"decoded"`
}

// Decoded holds the upstream decoder output for an uplink. Payload is kept
// raw: when Status is not success its shape cannot be relied on.
type Decoded struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload"`
}

// PayloadValue is a single decoded channel
type PayloadValue struct {
	Value json.RawMessage `json:"value"`
}

// Values parses the payload channels. The decoder emits each value as either
// a JSON string or a JSON number, decimal.Decimal accepts both.
func (d Decoded) Values() ([]decimal.Decimal, error) {
	var channels []PayloadValue
	if err := json.Unmarshal(d.Payload, &channels); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}

	values := make([]decimal.Decimal, len(channels))
	for i, ch := range channels {
		if len(ch.Value) == 0 {
			return nil, fmt.Errorf("payload[%d]: missing value", i)
		}
		if err := values[i].UnmarshalJSON(ch.Value); err != nil {
			return nil, fmt.Errorf("payload[%d]: %w", i, err)
		}
	}
	return values, nil
}

// Reading represents a successfully decoded current measurement
type Reading struct {
	DeviceEUI  string
	ReportedAt time.Time
	AvgCurrent decimal.Decimal
	MinCurrent decimal.Decimal
	MaxCurrent decimal.Decimal
}

// AssociationInfo maps a sensor to the machine it is attached to
type AssociationInfo struct {
	IntervalMinutes decimal.Decimal `json:"timeStampInterval"`
	MachineID       string          `json:"machineId"`
}

// Result is returned once per processed event
type Result struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Result  *Ack   `json:"result,omitempty"`
}

// Ack is the summary store's write acknowledgement
type Ack struct {
	ID         string `json:"id"`
	StatusCode int    `json:"statusCode"`
}

// DecodeEvent parses a JSON uplink
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
