package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/metrics"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/models"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/usage"
)

// Result reasons
const (
	ReasonDecodeFailed = "failed to decode"
	ReasonStoreFailed  = "failed to store summary"
)

// ErrMalformedPayload is returned for events that decoded successfully
// upstream but do not carry three numeric current channels.
var ErrMalformedPayload = errors.New("malformed payload")

// AssociationResolver looks up which machine a sensor feeds and how often it reports
type AssociationResolver interface {
	Resolve(ctx context.Context, deviceEUI string) (models.AssociationInfo, error)
}

// SummaryStore is the append-only log of cumulative summaries
type SummaryStore interface {
	FindAllForMachine(ctx context.Context, machineID string) ([]models.SummaryRow, error)
	Append(ctx context.Context, row models.SummaryRow) (models.Ack, error)
}

// LatestFinder is implemented by stores that can look up the current
// snapshot without returning the whole log.
type LatestFinder interface {
	Latest(ctx context.Context, machineID string) (models.SummaryRow, bool, error)
}

// Mirror receives every stored snapshot, e.g. for dashboards
type Mirror interface {
	WriteSummary(ctx context.Context, reading models.Reading, row models.SummaryRow, state models.OperatingState) error
}

// Processor turns sensor events into summary snapshots, one event at a time
type Processor struct {
	resolver  AssociationResolver
	summaries SummaryStore
	engine    usage.Engine
	mirror    Mirror
	metrics   *metrics.Metrics
	logger    *slog.Logger
	locks     *machineLocks
	now       func() time.Time
}

// Option configures a Processor
type Option func(*Processor)

// WithMirror sends stored snapshots to m as well
func WithMirror(m Mirror) Option {
	return func(p *Processor) { p.mirror = m }
}

// WithMetrics records outcomes and timings in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger replaces the default slog logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor creates a new processor
func NewProcessor(resolver AssociationResolver, summaries SummaryStore, engine usage.Engine, opts ...Option) *Processor {
	p := &Processor{
		resolver:  resolver,
		summaries: summaries,
		engine:    engine,
		logger:    slog.Default(),
		locks:     newMachineLocks(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one event end to end. Decode failures and failed writes
// are reported through the Result; lookup and read failures are returned as
// errors since nothing was written.
func (p *Processor) Process(ctx context.Context, event models.Event) (models.Result, error) {
	start := p.now()
	defer p.metrics.ObserveDuration(start)

	if event.Decoded.Status != models.DecodeStatusSuccess {
		p.metrics.ObserveOutcome(metrics.OutcomeDecodeFailed)
		p.logger.Warn("skipping undecoded uplink", "dev_eui", event.DevEUI, "status", event.Decoded.Status)
		return models.Result{Success: false, Reason: ReasonDecodeFailed}, nil
	}

	reading, err := ParseReading(event)
	if err != nil {
		p.metrics.ObserveOutcome(metrics.OutcomeMalformed)
		return models.Result{}, err
	}

	info, err := p.resolver.Resolve(ctx, reading.DeviceEUI)
	if err != nil {
		p.metrics.ObserveOutcome(metrics.OutcomeUnassociated)
		return models.Result{}, fmt.Errorf("resolve association: %w", err)
	}

	unlock := p.locks.lock(info.MachineID)
	defer unlock()

	previous, err := p.latest(ctx, info.MachineID)
	if err != nil {
		p.metrics.ObserveOutcome(metrics.OutcomeStoreReadErr)
		return models.Result{}, fmt.Errorf("read latest summary for %s: %w", info.MachineID, err)
	}

	eval := p.engine.Evaluate(reading, info, previous)
	row := models.SummaryRow{
		ID:                uuid.NewString(),
		DeviceID:          info.MachineID,
		Energy:            eval.Energy,
		Timestamp:         reading.ReportedAt,
		UsefulInformation: eval.Summary,
	}

	ack, err := p.summaries.Append(ctx, row)
	if err != nil || ack.StatusCode != http.StatusOK {
		p.metrics.ObserveOutcome(metrics.OutcomeStoreWriteErr)
		p.logger.Error("failed to append summary",
			"machine_id", info.MachineID, "status_code", ack.StatusCode, "error", err)
		return models.Result{Success: false, Reason: ReasonStoreFailed, Result: &ack}, nil
	}

	p.metrics.ObserveOutcome(metrics.OutcomeStored)
	p.metrics.ObserveState(info.MachineID, eval.State.String())
	p.logger.Debug("stored summary",
		"machine_id", info.MachineID,
		"dev_eui", reading.DeviceEUI,
		"state", eval.State.String(),
		"energy", eval.Energy.String(),
		"counted", eval.Summary.Counted)

	if p.mirror != nil {
		if err := p.mirror.WriteSummary(ctx, reading, row, eval.State); err != nil {
			p.metrics.ObserveMirrorError()
			p.logger.Warn("failed to mirror summary", "machine_id", info.MachineID, "error", err)
		}
	}

	return models.Result{Success: true, Result: &ack}, nil
}

// CurrentSummary returns the latest stored snapshot for a machine
func (p *Processor) CurrentSummary(ctx context.Context, machineID string) (models.SummaryRow, bool, error) {
	if lf, ok := p.summaries.(LatestFinder); ok {
		return lf.Latest(ctx, machineID)
	}
	rows, err := p.summaries.FindAllForMachine(ctx, machineID)
	if err != nil {
		return models.SummaryRow{}, false, err
	}
	row, ok := usage.FindLatest(rows)
	return row, ok, nil
}

func (p *Processor) latest(ctx context.Context, machineID string) (*models.CumulativeSummary, error) {
	row, ok, err := p.CurrentSummary(ctx, machineID)
	if err != nil || !ok {
		return nil, err
	}
	return &row.UsefulInformation, nil
}

// ParseReading extracts the average, minimum and maximum current channels
func ParseReading(event models.Event) (models.Reading, error) {
	if event.DevEUI == "" {
		return models.Reading{}, fmt.Errorf("missing dev_eui: %w", ErrMalformedPayload)
	}
	values, err := event.Decoded.Values()
	if err != nil {
		return models.Reading{}, fmt.Errorf("device %s: %v: %w", event.DevEUI, err, ErrMalformedPayload)
	}
	if len(values) < 3 {
		return models.Reading{}, fmt.Errorf("device %s: expected 3 payload values, got %d: %w",
			event.DevEUI, len(values), ErrMalformedPayload)
	}

	return models.Reading{
		DeviceEUI:  event.DevEUI,
		ReportedAt: time.Unix(event.ReportedAt, 0).UTC(),
		AvgCurrent: values[0],
		MinCurrent: values[1],
		MaxCurrent: values[2],
	}, nil
}

// machineLocks serializes the read-fold-append cycle per machine within this
// process. Readings for the same machine handled by another process can
// still fold onto the same snapshot.
type machineLocks struct {
	mu    sync.Mutex
	locks map[string]*machineLock
}

type machineLock struct {
	mu   sync.Mutex
	refs int
}

func newMachineLocks() *machineLocks {
	return &machineLocks{locks: make(map[string]*machineLock)}
}

func (l *machineLocks) lock(machineID string) func() {
	l.mu.Lock()
	ml, ok := l.locks[machineID]
	if !ok {
		ml = &machineLock{}
		l.locks[machineID] = ml
	}
	ml.refs++
	l.mu.Unlock()

	ml.mu.Lock()
	return func() {
		ml.mu.Unlock()

		l.mu.Lock()
		ml.refs--
		if ml.refs == 0 {
			delete(l.locks, machineID)
		}
		l.mu.Unlock()
	}
}
