// Package usage classifies machine state from current draw and folds each
// reading into the cumulative usage summary of its machine.
package usage

import (
	"fmt"

	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// DefaultVolts is the supply voltage of the laser cutter
	DefaultVolts = decimal.NewFromInt(240)

	minutesPerHour = decimal.NewFromInt(60)
)

// Thresholds are the current levels (amps) separating the operating states
type Thresholds struct {
	Using decimal.Decimal
	On    decimal.Decimal
}

// DefaultThresholds returns 5A for in use and 1A for powered on
func DefaultThresholds() Thresholds {
	return Thresholds{
		Using: decimal.NewFromInt(5),
		On:    decimal.NewFromInt(1),
	}
}

// Validate requires Using > On >= 0
func (t Thresholds) Validate() error {
	if t.On.IsNegative() {
		return fmt.Errorf("on threshold must not be negative, got %s", t.On)
	}
	if !t.Using.GreaterThan(t.On) {
		return fmt.Errorf("using threshold %s must be greater than on threshold %s", t.Using, t.On)
	}
	return nil
}

// Classify maps an average current to an operating state. Comparisons are
// strict, so a reading exactly on a threshold falls into the lower state.
func Classify(avgCurrent decimal.Decimal, t Thresholds) models.OperatingState {
	switch {
	case avgCurrent.GreaterThan(t.Using):
		return models.StateUsing
	case avgCurrent.GreaterThan(t.On):
		return models.StateIdle
	default:
		return models.StateOff
	}
}

// EnergyFromCurrent returns avgCurrent * volts * intervalMinutes / 60
func EnergyFromCurrent(avgCurrent, volts, intervalMinutes decimal.Decimal) decimal.Decimal {
	return avgCurrent.Mul(volts).Mul(intervalMinutes).Div(minutesPerHour)
}

// Fold combines a new reading with the previous summary. A nil previous
// starts a new summary. previous is never modified.
func Fold(previous *models.CumulativeSummary, newEnergy, intervalMinutes decimal.Decimal, state models.OperatingState) models.CumulativeSummary {
	next := models.CumulativeSummary{
		Counted:       1,
		TotalEnergy:   newEnergy,
		AverageEnergy: newEnergy,
		TotalTimeOff:  decimal.Zero,
		TotalTimeIdle: decimal.Zero,
		TotalTimeUsed: decimal.Zero,
	}

	if previous != nil {
		next.Counted = previous.Counted + 1
		next.TotalEnergy = previous.TotalEnergy.Add(newEnergy)
		next.AverageEnergy = next.TotalEnergy.Div(decimal.NewFromInt(next.Counted))
		next.TotalTimeOff = previous.TotalTimeOff
		next.TotalTimeIdle = previous.TotalTimeIdle
		next.TotalTimeUsed = previous.TotalTimeUsed
	}

	switch state {
	case models.StateUsing:
		next.TotalTimeUsed = next.TotalTimeUsed.Add(intervalMinutes)
	case models.StateIdle:
		next.TotalTimeIdle = next.TotalTimeIdle.Add(intervalMinutes)
	default:
		next.TotalTimeOff = next.TotalTimeOff.Add(intervalMinutes)
	}

	return next
}

// FindLatest returns the row with the greatest timestamp. When several rows
// share that timestamp the first one in rows wins.
func FindLatest(rows []models.SummaryRow) (models.SummaryRow, bool) {
	if len(rows) == 0 {
		return models.SummaryRow{}, false
	}

	latest := rows[0]
	for _, row := range rows[1:] {
		if row.Timestamp.After(latest.Timestamp) {
			latest = row
		}
	}
	return latest, true
}

// Engine bundles the supply voltage and state thresholds
type Engine struct {
	Volts      decimal.Decimal
	Thresholds Thresholds
}

// NewEngine validates the thresholds and returns an Engine
func NewEngine(volts decimal.Decimal, thresholds Thresholds) (Engine, error) {
	if !volts.IsPositive() {
		return Engine{}, fmt.Errorf("volts must be positive, got %s", volts)
	}
	if err := thresholds.Validate(); err != nil {
		return Engine{}, err
	}
	return Engine{Volts: volts, Thresholds: thresholds}, nil
}

// Evaluation is the outcome of running one reading through the engine
type Evaluation struct {
	State   models.OperatingState
	Energy  decimal.Decimal
	Summary models.CumulativeSummary
}

// Evaluate classifies the reading, converts it to energy and folds it onto previous
func (e Engine) Evaluate(reading models.Reading, info models.AssociationInfo, previous *models.CumulativeSummary) Evaluation {
	state := Classify(reading.AvgCurrent, e.Thresholds)
	energy := EnergyFromCurrent(reading.AvgCurrent, e.Volts, info.IntervalMinutes)
	return Evaluation{
		State:   state,
		Energy:  energy,
		Summary: Fold(previous, energy, info.IntervalMinutes, state),
	}
}
