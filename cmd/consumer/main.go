package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/api"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/config"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/influxdb"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/kafka"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/logging"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/metrics"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/mqtt"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/processor"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/store"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/usage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(os.Stdout, cfg.LogLevel)

	if len(os.Args) > 1 && os.Args[1] == "associate" {
		if err := associate(cfg, os.Args[2:]); err != nil {
			log.Error("failed to store association", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, log); err != nil {
		log.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	// Create context that is canceled on termination signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	// Closed explicitly once every trigger has stopped

	engine, err := usage.NewEngine(cfg.Engine.Volts, usage.Thresholds{
		Using: cfg.Engine.ThresholdUsing,
		On:    cfg.Engine.ThresholdOn,
	})
	if err != nil {
		st.Close()
		return fmt.Errorf("invalid engine configuration: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	opts := []processor.Option{processor.WithLogger(log), processor.WithMetrics(m)}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.NewClient(ctx, cfg.InfluxDB, log)
		if err != nil {
			st.Close()
			return err
		}
		opts = append(opts, processor.WithMirror(influxClient))
	}

	proc := processor.NewProcessor(st, st, engine, opts...)

	var wg sync.WaitGroup

	server := api.NewServer(cfg.HTTP.Addr, log, &api.Handlers{
		Log:       log,
		Processor: proc,
		Store:     st,
	}, m.Handler(), cfg.TriggerEnabled(config.SourceHTTP))

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			log.Error("http server error", "error", err)
			cancel()
		}
	}()

	var consumers []*kafka.Consumer
	if cfg.TriggerEnabled(config.SourceKafka) {
		log.Info("starting kafka consumers", "count", cfg.Kafka.ConsumerCount, "topic", cfg.Kafka.Topic)
		for i := 0; i < cfg.Kafka.ConsumerCount; i++ {
			consumer, err := kafka.NewConsumer(fmt.Sprintf("consumer-%d", i), cfg.Kafka, proc.Process, log)
			if err != nil {
				log.Error("failed to create kafka consumer", "id", i, "error", err)
				cancel()
				break
			}
			consumers = append(consumers, consumer)

			wg.Add(1)
			go func(c *kafka.Consumer, id int) {
				defer wg.Done()
				if err := c.Consume(ctx); err != nil {
					log.Error("kafka consumer error", "id", id, "error", err)
				}
				log.Info("kafka consumer stopped", "id", id)
			}(consumer, i)
		}
	}

	var subscriber *mqtt.Subscriber
	if cfg.TriggerEnabled(config.SourceMQTT) {
		subscriber = mqtt.NewSubscriber(cfg.MQTT, proc.Process, log)
		if err := subscriber.Start(ctx); err != nil {
			log.Error("failed to start mqtt subscriber", "error", err)
			subscriber = nil
			cancel()
		}
	}

	// Wait for termination signal
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn("http server shutdown", "error", err)
	}
	if subscriber != nil {
		subscriber.Stop()
	}
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			log.Warn("kafka consumer close", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("all triggers stopped")
	case <-shutdownCtx.Done():
		log.Warn("shutdown timed out, forcing exit")
	}

	// Now it's safe to close the sinks
	if influxClient != nil {
		influxClient.Close()
	}
	if err := st.Close(); err != nil {
		log.Warn("store close", "error", err)
	}

	log.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	st, err := store.Open(cfg.Path)
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := st.InitSchema(initCtx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// associate provisions a sensor to machine mapping:
//
//	consumer associate -device 70b3d57ed0001a2b -machine laser-01 -interval 15
func associate(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("associate", flag.ContinueOnError)
	device := fs.String("device", "", "Recording device EUI")
	machine := fs.String("machine", "", "Machine identifier the device monitors")
	interval := fs.String("interval", "15", "Reporting interval in minutes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *device == "" || *machine == "" {
		fs.Usage()
		return fmt.Errorf("-device and -machine are required")
	}

	minutes, err := decimal.NewFromString(*interval)
	if err != nil {
		return fmt.Errorf("invalid -interval %q: %w", *interval, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.PutAssociation(ctx, *device, minutes, []store.Port{{DeviceID: *machine}})
}
