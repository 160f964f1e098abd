package usage

import (
	"testing"
	"time"

	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func TestClassify(t *testing.T) {
	thresholds := DefaultThresholds()

	cases := []struct {
		current string
		want    models.OperatingState
	}{
		{"12.3", models.StateUsing},
		{"5.0001", models.StateUsing},
		{"5", models.StateIdle},
		{"3", models.StateIdle},
		{"1.0001", models.StateIdle},
		{"1", models.StateOff},
		{"0.4", models.StateOff},
		{"0", models.StateOff},
		{"-0.2", models.StateOff},
	}

	for _, c := range cases {
		t.Run(c.current, func(t *testing.T) {
			require.Equal(t, c.want, Classify(dec(c.current), thresholds))
		})
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	thresholds := Thresholds{Using: dec("2.5"), On: dec("0")}

	require.Equal(t, models.StateUsing, Classify(dec("2.6"), thresholds))
	require.Equal(t, models.StateIdle, Classify(dec("0.01"), thresholds))
	require.Equal(t, models.StateOff, Classify(dec("0"), thresholds))
}

func TestThresholdsValidate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())
	require.NoError(t, Thresholds{Using: dec("1"), On: dec("0")}.Validate())
	require.Error(t, Thresholds{Using: dec("1"), On: dec("1")}.Validate())
	require.Error(t, Thresholds{Using: dec("1"), On: dec("2")}.Validate())
	require.Error(t, Thresholds{Using: dec("1"), On: dec("-1")}.Validate())
}

func TestEnergyFromCurrent(t *testing.T) {
	requireDecimal(t, "600", EnergyFromCurrent(dec("10"), DefaultVolts, dec("15")))
	requireDecimal(t, "30", EnergyFromCurrent(dec("0.5"), DefaultVolts, dec("15")))
	requireDecimal(t, "0", EnergyFromCurrent(dec("0"), DefaultVolts, dec("15")))
	requireDecimal(t, "-4", EnergyFromCurrent(dec("-0.1"), DefaultVolts, dec("10")))
}

func TestFoldFirstReading(t *testing.T) {
	for _, state := range []models.OperatingState{models.StateOff, models.StateIdle, models.StateUsing} {
		t.Run(state.String(), func(t *testing.T) {
			got := Fold(nil, dec("42.5"), dec("15"), state)

			require.Equal(t, int64(1), got.Counted)
			requireDecimal(t, "42.5", got.TotalEnergy)
			requireDecimal(t, "42.5", got.AverageEnergy)

			want := map[models.OperatingState]decimal.Decimal{
				models.StateOff:   got.TotalTimeOff,
				models.StateIdle:  got.TotalTimeIdle,
				models.StateUsing: got.TotalTimeUsed,
			}
			for s, acc := range want {
				if s == state {
					requireDecimal(t, "15", acc)
				} else {
					requireDecimal(t, "0", acc)
				}
			}
		})
	}
}

func TestFoldCarriesForward(t *testing.T) {
	previous := models.CumulativeSummary{
		Counted:       3,
		TotalEnergy:   dec("900"),
		AverageEnergy: dec("300"),
		TotalTimeOff:  dec("15"),
		TotalTimeIdle: dec("10"),
		TotalTimeUsed: dec("20"),
	}
	before := previous

	got := Fold(&previous, dec("100"), dec("5"), models.StateIdle)

	require.Equal(t, int64(4), got.Counted)
	requireDecimal(t, "1000", got.TotalEnergy)
	requireDecimal(t, "250", got.AverageEnergy)
	requireDecimal(t, "15", got.TotalTimeOff)
	requireDecimal(t, "15", got.TotalTimeIdle)
	requireDecimal(t, "20", got.TotalTimeUsed)
	require.Equal(t, before, previous)
}

func TestFoldIdenticalReadings(t *testing.T) {
	const n = 7
	var summary *models.CumulativeSummary
	for i := 0; i < n; i++ {
		next := Fold(summary, dec("12.5"), dec("15"), models.StateUsing)
		summary = &next
	}

	require.Equal(t, int64(n), summary.Counted)
	requireDecimal(t, "87.5", summary.TotalEnergy)
	requireDecimal(t, "12.5", summary.AverageEnergy)
	requireDecimal(t, "105", summary.TotalTimeUsed)
	requireDecimal(t, "0", summary.TotalTimeIdle)
	requireDecimal(t, "0", summary.TotalTimeOff)
}

func TestFoldConservesMinutes(t *testing.T) {
	intervals := []string{"0.1", "0.2", "15", "7.25", "0.3", "1", "0.05"}
	states := []models.OperatingState{models.StateOff, models.StateUsing, models.StateIdle}

	var summary *models.CumulativeSummary
	sum := decimal.Zero
	for i, interval := range intervals {
		next := Fold(summary, dec("1.1"), dec(interval), states[i%len(states)])
		summary = &next
		sum = sum.Add(dec(interval))

		require.Truef(t, summary.TotalMinutes().Equal(sum), "after %d folds: %s != %s", i+1, summary.TotalMinutes(), sum)
		require.Equal(t, int64(i+1), summary.Counted)
	}
	requireDecimal(t, "23.9", summary.TotalMinutes())
}

func TestFindLatest(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, ok := FindLatest(nil)
	require.False(t, ok)

	rows := []models.SummaryRow{
		{ID: "a", Timestamp: base},
		{ID: "b", Timestamp: base.Add(30 * time.Minute)},
		{ID: "c", Timestamp: base.Add(15 * time.Minute)},
	}
	latest, ok := FindLatest(rows)
	require.True(t, ok)
	require.Equal(t, "b", latest.ID)
}

func TestFindLatestTieKeepsFirstSeen(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []models.SummaryRow{
		{ID: "older", Timestamp: ts.Add(-time.Minute)},
		{ID: "first", Timestamp: ts},
		{ID: "second", Timestamp: ts},
	}

	latest, ok := FindLatest(rows)
	require.True(t, ok)
	require.Equal(t, "first", latest.ID)

	rows[1], rows[2] = rows[2], rows[1]
	latest, _ = FindLatest(rows)
	require.Equal(t, "second", latest.ID)
}

func TestEngineEvaluate(t *testing.T) {
	engine, err := NewEngine(DefaultVolts, DefaultThresholds())
	require.NoError(t, err)

	info := models.AssociationInfo{IntervalMinutes: dec("15"), MachineID: "laser-1"}

	first := engine.Evaluate(models.Reading{AvgCurrent: dec("6")}, info, nil)
	require.Equal(t, models.StateUsing, first.State)
	requireDecimal(t, "360", first.Energy)
	require.Equal(t, int64(1), first.Summary.Counted)
	requireDecimal(t, "360", first.Summary.TotalEnergy)
	requireDecimal(t, "360", first.Summary.AverageEnergy)
	requireDecimal(t, "15", first.Summary.TotalTimeUsed)
	requireDecimal(t, "0", first.Summary.TotalTimeIdle)
	requireDecimal(t, "0", first.Summary.TotalTimeOff)

	second := engine.Evaluate(models.Reading{AvgCurrent: dec("0.5")}, info, &first.Summary)
	require.Equal(t, models.StateOff, second.State)
	requireDecimal(t, "30", second.Energy)
	require.Equal(t, int64(2), second.Summary.Counted)
	requireDecimal(t, "390", second.Summary.TotalEnergy)
	requireDecimal(t, "195", second.Summary.AverageEnergy)
	requireDecimal(t, "15", second.Summary.TotalTimeUsed)
	requireDecimal(t, "0", second.Summary.TotalTimeIdle)
	requireDecimal(t, "15", second.Summary.TotalTimeOff)
}

func TestNewEngineRejectsBadInput(t *testing.T) {
	_, err := NewEngine(decimal.Zero, DefaultThresholds())
	require.Error(t, err)

	_, err = NewEngine(DefaultVolts, Thresholds{Using: dec("1"), On: dec("3")})
	require.Error(t, err)
}
