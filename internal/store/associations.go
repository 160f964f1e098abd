package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/models"
	"github.com/shopspring/decimal"
)

// Port is one monitored output of a recording device
type Port struct {
	DeviceID string `json:"deviceId"`
}

// Resolve returns the sampling interval and machine id the device reports for.
// Only the first port is used.
func (s *Store) Resolve(ctx context.Context, deviceEUI string) (models.AssociationInfo, error) {
	if s.db == nil {
		return models.AssociationInfo{}, ErrNotInitialized
	}

	var interval, portsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT time_stamp_interval, ports FROM device_associations WHERE recording_device_id = ?`,
		deviceEUI,
	).Scan(&interval, &portsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AssociationInfo{}, fmt.Errorf("device %s: %w", deviceEUI, ErrAssociationNotFound)
	}
	if err != nil {
		return models.AssociationInfo{}, fmt.Errorf("query association for %s: %w", deviceEUI, err)
	}

	minutes, err := decimal.NewFromString(interval)
	if err != nil || !minutes.IsPositive() {
		return models.AssociationInfo{}, fmt.Errorf("device %s: interval %q: %w", deviceEUI, interval, ErrInvalidAssociation)
	}

	var ports []Port
	if err := json.Unmarshal([]byte(portsJSON), &ports); err != nil {
		return models.AssociationInfo{}, fmt.Errorf("device %s: decode ports: %v: %w", deviceEUI, err, ErrInvalidAssociation)
	}
	if len(ports) == 0 || ports[0].DeviceID == "" {
		return models.AssociationInfo{}, fmt.Errorf("device %s: no machine on first port: %w", deviceEUI, ErrInvalidAssociation)
	}

	return models.AssociationInfo{
		IntervalMinutes: minutes,
		MachineID:       ports[0].DeviceID,
	}, nil
}

// PutAssociation creates or replaces the association record of a device.
func (s *Store) PutAssociation(ctx context.Context, deviceEUI string, intervalMinutes decimal.Decimal, ports []Port) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if deviceEUI == "" {
		return fmt.Errorf("device eui is required: %w", ErrInvalidAssociation)
	}
	if !intervalMinutes.IsPositive() {
		return fmt.Errorf("interval must be positive, got %s: %w", intervalMinutes, ErrInvalidAssociation)
	}

	portsJSON, err := json.Marshal(ports)
	if err != nil {
		return fmt.Errorf("encode ports: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_associations (recording_device_id, time_stamp_interval, ports)
		VALUES (?, ?, ?)
		ON CONFLICT(recording_device_id) DO UPDATE SET
			time_stamp_interval = excluded.time_stamp_interval,
			ports = excluded.ports,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, deviceEUI, intervalMinutes.String(), string(portsJSON))
	if err != nil {
		return fmt.Errorf("upsert association for %s: %w", deviceEUI, err)
	}
	return nil
}
