package influxdb

import (
	"context"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/config"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/models"
)

const measurement = "machine_usage"

// Client mirrors stored summaries into an InfluxDB v2 bucket
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	logger   *slog.Logger
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg config.InfluxDBConfig, logger *slog.Logger) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influxdb at %s is %s", cfg.URL, health.Status)
	}

	logger.Info("connected to InfluxDB", "url", cfg.URL, "bucket", cfg.Bucket)
	return &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		logger:   logger,
	}, nil
}

// WriteSummary writes one point per stored snapshot
func (c *Client) WriteSummary(ctx context.Context, reading models.Reading, row models.SummaryRow, state models.OperatingState) error {
	if err := c.writeAPI.WritePoint(ctx, SummaryPoint(reading, row, state)); err != nil {
		return fmt.Errorf("write point to %s: %w", c.bucket, err)
	}
	c.logger.Debug("mirrored summary", "bucket", c.bucket, "machine_id", row.DeviceID, "counted", row.UsefulInformation.Counted)
	return nil
}

// SummaryPoint converts a snapshot into a line-protocol point. Decimals are
// written as floats since that is what Flux dashboards aggregate on.
func SummaryPoint(reading models.Reading, row models.SummaryRow, state models.OperatingState) *write.Point {
	info := row.UsefulInformation
	return write.NewPoint(
		measurement,
		map[string]string{
			"machine_id": row.DeviceID,
			"dev_eui":    reading.DeviceEUI,
			"state":      state.String(),
		},
		map[string]interface{}{
			"avg_current":     reading.AvgCurrent.InexactFloat64(),
			"min_current":     reading.MinCurrent.InexactFloat64(),
			"max_current":     reading.MaxCurrent.InexactFloat64(),
			"energy":          row.Energy.InexactFloat64(),
			"counted":         info.Counted,
			"total_energy":    info.TotalEnergy.InexactFloat64(),
			"average_energy":  info.AverageEnergy.InexactFloat64(),
			"total_time_off":  info.TotalTimeOff.InexactFloat64(),
			"total_time_idle": info.TotalTimeIdle.InexactFloat64(),
			"total_time_used": info.TotalTimeUsed.InexactFloat64(),
		},
		row.Timestamp,
	)
}

// Close closes the InfluxDB client
func (c *Client) Close() {
	c.client.Close()
}
