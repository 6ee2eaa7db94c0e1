// Package outbox delivers the project event log to webhooks and Kafka.
// Each sink keeps a persisted cursor per project, so deliveries resume
// where they stopped after a restart.
package outbox

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldplan/internal/config"
	"fieldplan/internal/logging"
	"fieldplan/internal/observability"
	"fieldplan/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultBatch    = 100
)

type Dispatcher struct {
	Repo     repo.Repo
	Interval time.Duration
	Batch    int
	Client   *http.Client
	// NewWriter builds the Kafka writer for a project's kafka section.
	NewWriter func(config.Kafka) MessageWriter
	Log       *zap.Logger
	Metrics   *observability.Metrics

	mu      sync.Mutex
	writers map[string]MessageWriter
}

// Run dispatches until ctx is cancelled, then closes Kafka writers.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer d.close()
	for {
		if err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.log().Warn("outbox pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers pending events of every project to its sinks.
func (d *Dispatcher) DispatchOnce(ctx context.Context) error {
	projects, err := d.Repo.ListProjects(ctx)
	if err != nil {
		return err
	}
	for _, p := range projects {
		cfg, err := d.Repo.GetProjectConfig(ctx, p.ID)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		for _, sink := range d.sinks(cfg) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.drain(ctx, p.ID, sink)
		}
	}
	return d.flushTombstones(ctx)
}

// flushTombstones delivers what deleted projects left behind using their
// last config, then drops the tombstone once every sink has caught up.
func (d *Dispatcher) flushTombstones(ctx context.Context) error {
	tombs, err := d.Repo.Tombstones(ctx)
	if err != nil {
		return err
	}
	for _, tb := range tombs {
		done := true
		for _, sink := range d.sinks(tb.Config) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !d.drain(ctx, tb.ProjectID, sink) {
				done = false
			}
		}
		if !done {
			continue
		}
		if err := d.Repo.ClearTombstone(ctx, tb.ProjectID); err != nil {
			d.log().Warn("clear tombstone failed", zap.String("project_id", tb.ProjectID), zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) sinks(cfg *config.Config) []Sink {
	var out []Sink
	for _, hook := range cfg.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		out = append(out, NewWebhookSink(hook, d.Client))
	}
	if cfg.Kafka.Enabled() {
		out = append(out, &KafkaSink{Topic: cfg.Kafka.Topic, Writer: d.writer(cfg.Kafka)})
	}
	return out
}

// writer reuses one Kafka writer per broker list and topic.
func (d *Dispatcher) writer(k config.Kafka) MessageWriter {
	key := strings.Join(k.Brokers, ",") + "/" + k.Topic
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writers == nil {
		d.writers = map[string]MessageWriter{}
	}
	if w, ok := d.writers[key]; ok {
		return w
	}
	newWriter := d.NewWriter
	if newWriter == nil {
		newWriter = NewKafkaWriter
	}
	w := newWriter(k)
	d.writers[key] = w
	return w
}

func (d *Dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, w := range d.writers {
		if err := w.Close(); err != nil {
			d.log().Warn("close kafka writer", zap.String("writer", key), zap.Error(err))
		}
	}
	d.writers = nil
}

// cursor returns the sink's position. A sink seen for the first time starts
// after the latest event so it only receives new activity.
func (d *Dispatcher) cursor(ctx context.Context, projectID, sinkID string) (int64, error) {
	cur, err := d.Repo.SinkCursor(ctx, sinkID, projectID)
	if !errors.Is(err, repo.ErrNotFound) {
		return cur, err
	}
	cur, err = d.Repo.LatestEventID(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return cur, d.Repo.SetSinkCursor(ctx, sinkID, projectID, cur)
}

// drain delivers one batch to the sink and reports whether the sink has
// caught up with the project's log.
func (d *Dispatcher) drain(ctx context.Context, projectID string, sink Sink) bool {
	log := d.log().With(zap.String("project_id", projectID), zap.String("sink", sink.ID()))
	cur, err := d.cursor(ctx, projectID, sink.ID())
	if err != nil {
		log.Warn("load cursor failed", zap.Error(err))
		return false
	}
	batch := d.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	evts, err := d.Repo.EventsAfter(ctx, batch, cur, projectID)
	if err != nil {
		log.Warn("fetch events failed", zap.Error(err))
		return false
	}
	caughtUp := len(evts) < batch
	last := cur
	for _, evt := range evts {
		if sink.Accepts(evt.Type) {
			err := sink.Deliver(ctx, evt)
			d.Metrics.Delivery(sink.ID(), err)
			if err != nil {
				log.Warn("delivery failed", zap.Int64("event_id", evt.ID), zap.String("event", evt.Type), zap.Error(err))
				caughtUp = false
				break
			}
		}
		last = evt.ID
	}
	if last == cur {
		return caughtUp
	}
	if err := d.Repo.SetSinkCursor(ctx, sink.ID(), projectID, last); err != nil {
		log.Warn("store cursor failed", zap.Error(err))
		return false
	}
	return caughtUp
}

func (d *Dispatcher) log() *zap.Logger { return logging.OrNop(d.Log) }
