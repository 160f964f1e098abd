package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/models"
	"github.com/relvacode/iso8601"
	"github.com/shopspring/decimal"
)

const summaryColumns = `id, device_id, energy, time_stamp, useful_information`

// FindAllForMachine returns every stored snapshot for the machine in insertion order.
func (s *Store) FindAllForMachine(ctx context.Context, machineID string) ([]models.SummaryRow, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM data_monitoring WHERE device_id = ? ORDER BY seq ASC`,
		machineID,
	)
	if err != nil {
		return nil, fmt.Errorf("query summaries for %s: %w", machineID, err)
	}
	defer rows.Close()

	var out []models.SummaryRow
	for rows.Next() {
		row, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries for %s: %w", machineID, err)
	}
	return out, nil
}

// Latest returns the snapshot with the greatest timestamp for the machine.
// Among equal timestamps the earliest inserted row wins, matching the
// iteration order of FindAllForMachine.
func (s *Store) Latest(ctx context.Context, machineID string) (models.SummaryRow, bool, error) {
	if s.db == nil {
		return models.SummaryRow{}, false, ErrNotInitialized
	}

	row, err := scanSummary(s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM data_monitoring
		WHERE device_id = ?
		ORDER BY reported_unix_nano DESC, seq ASC
		LIMIT 1`,
		machineID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.SummaryRow{}, false, nil
	}
	if err != nil {
		return models.SummaryRow{}, false, fmt.Errorf("query latest summary for %s: %w", machineID, err)
	}
	return row, true, nil
}

// Append inserts a new snapshot. Rows are never updated. An empty row ID is
// replaced with a random UUID.
func (s *Store) Append(ctx context.Context, row models.SummaryRow) (models.Ack, error) {
	if s.db == nil {
		return models.Ack{}, ErrNotInitialized
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}

	info, err := json.Marshal(row.UsefulInformation)
	if err != nil {
		return models.Ack{}, fmt.Errorf("encode useful information: %w", err)
	}

	ts := row.Timestamp.UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO data_monitoring (id, device_id, energy, time_stamp, reported_unix_nano, useful_information)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.ID, row.DeviceID, row.Energy.String(), ts.Format(time.RFC3339Nano), ts.UnixNano(), string(info))
	if err != nil {
		return models.Ack{ID: row.ID, StatusCode: http.StatusInternalServerError},
			fmt.Errorf("insert summary for %s: %w", row.DeviceID, err)
	}

	ack := models.Ack{ID: row.ID, StatusCode: http.StatusOK}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		ack.StatusCode = http.StatusInternalServerError
	}
	return ack, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(sc scanner) (models.SummaryRow, error) {
	var (
		row                       models.SummaryRow
		energy, timestamp, useful string
	)
	if err := sc.Scan(&row.ID, &row.DeviceID, &energy, &timestamp, &useful); err != nil {
		return models.SummaryRow{}, err
	}

	var err error
	if row.Energy, err = decimal.NewFromString(energy); err != nil {
		return models.SummaryRow{}, fmt.Errorf("summary %s: energy %q: %w", row.ID, energy, err)
	}
	if row.Timestamp, err = iso8601.ParseString(timestamp); err != nil {
		return models.SummaryRow{}, fmt.Errorf("summary %s: timestamp %q: %w", row.ID, timestamp, err)
	}
	if err := json.Unmarshal([]byte(useful), &row.UsefulInformation); err != nil {
		return models.SummaryRow{}, fmt.Errorf("summary %s: useful information: %w", row.ID, err)
	}
	return row, nil
}
