package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperatingState is the instantaneous state of a machine derived from its current draw
type OperatingState int

const (
	StateOff OperatingState = iota
	StateIdle
	StateUsing
)

func (s OperatingState) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateIdle:
		return "idle"
	case StateUsing:
		return "using"
	default:
		return "unknown"
	}
}

// CumulativeSummary represents the running usage totals of a machine
type CumulativeSummary struct {
	Counted       int64           `json:"counted"`
	TotalEnergy   decimal.Decimal `json:"totalPower"`
	AverageEnergy decimal.Decimal `json:"average"`
	TotalTimeOff  decimal.Decimal `json:"totalTimeOff"`
	TotalTimeIdle decimal.Decimal `json:"totalTimeIdle"`
	TotalTimeUsed decimal.Decimal `json:"totalTimeUsed"`
}

// TotalMinutes returns the sum of the three time accumulators
func (s CumulativeSummary) TotalMinutes() decimal.Decimal {
	return s.TotalTimeOff.Add(s.TotalTimeIdle).Add(s.TotalTimeUsed)
}

// SummaryRow is one immutable snapshot in the per-machine summary log
type SummaryRow struct {
	ID                string            `json:"id"`
	DeviceID          string            `json:"deviceId"`
	Energy            decimal.Decimal   `json:"energy"`
	Timestamp         time.Time         `json:"timeStamp"`
	UsefulInformation CumulativeSummary `json:"usefulInformation"`
}
