// Package capability tracks the voice-agent workers sharing a bus. Each
// worker announces what it can serve and sends periodic heartbeats; peers
// that miss heartbeats are marked unhealthy.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/voice-agent/internal/bus"
)

const (
	subjectAnnounce  = "worker.announce"
	subjectHeartbeat = "worker.heartbeat"
)

// Worker describes what one process can serve.
type Worker struct {
	ID       string    `json:"id"`
	LLMMode  string    `json:"llm_mode"`
	TTSMode  string    `json:"tts_mode"`
	Voices   []string  `json:"voices"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

type announceMessage struct {
	Worker    Worker    `json:"worker"`
	Timestamp time.Time `json:"timestamp"`
}

type heartbeatMessage struct {
	WorkerID  string    `json:"worker_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Options control heartbeat timing.
type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

type Registry struct {
	self    Worker
	opts    Options
	log     *slog.Logger
	bus     *bus.Client
	mu      sync.RWMutex
	workers map[string]*Worker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	subs    []*nats.Subscription
	now     func() time.Time
}

func NewRegistry(ctx context.Context, self Worker, opts Options, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 3 * opts.HeartbeatInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		self:    self,
		opts:    opts,
		log:     log.With(slog.String("component", "capability-registry"), slog.String("worker_id", self.ID)),
		bus:     busClient,
		workers: make(map[string]*Worker),
		cancel:  cancel,
		now:     time.Now,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.wg.Add(1)
	go r.run(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce worker", slog.String("error", err.Error()))
	}
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(r.bus.Subject(subjectAnnounce), r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(r.bus.Subject(subjectHeartbeat+".*"), r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

// run publishes heartbeats and expires silent peers until ctx is done.
func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(r.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{Worker: r.self, Timestamp: r.now().UTC()}
	if err := r.bus.PublishJSON(subjectAnnounce, msg); err != nil {
		return err
	}
	r.update(msg.Worker, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{WorkerID: r.self.ID, Timestamp: r.now().UTC()}
	return r.bus.PublishJSON(subjectHeartbeat+"."+r.self.ID, msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil || announcement.Worker.ID == "" {
		r.log.Warn("invalid announce message")
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.now().UTC()
	}
	r.update(announcement.Worker, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil || hb.WorkerID == "" {
		r.log.Warn("invalid heartbeat message")
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.now().UTC()
	}
	r.update(Worker{ID: hb.WorkerID}, hb.Timestamp)
}

// update merges what is known about a worker. Heartbeats carry only the id
// and keep previously announced fields.
func (r *Registry) update(w Worker, seen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.workers[w.ID]
	if !ok {
		node = &Worker{ID: w.ID}
		r.workers[w.ID] = node
	}
	if w.LLMMode != "" {
		node.LLMMode = w.LLMMode
	}
	if w.TTSMode != "" {
		node.TTSMode = w.TTSMode
	}
	if len(w.Voices) > 0 {
		node.Voices = append([]string(nil), w.Voices...)
	}
	node.LastSeen = seen
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, node := range r.workers {
		if now.Sub(node.LastSeen) > r.opts.HeartbeatTimeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether this worker has seen its own announcement.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.workers[r.self.ID]
	return ok && node.Healthy
}

// Workers returns known workers sorted by id. filter may be nil.
func (r *Registry) Workers(filter func(Worker) bool) []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []Worker
	for _, node := range r.workers {
		w := *node
		w.Voices = append([]string(nil), node.Voices...)
		if filter == nil || filter(w) {
			results = append(results, w)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// WithVoice keeps workers that can speak with the given persona label.
func WithVoice(label string) func(Worker) bool {
	return func(w Worker) bool {
		for _, v := range w.Voices {
			if v == label {
				return true
			}
		}
		return false
	}
}

// HealthyOnly keeps workers that heartbeated recently.
func HealthyOnly(w Worker) bool { return w.Healthy }

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/voice-agent/internal/capability")
	gauge, err := meter.Int64ObservableGauge("voiceagent.workers", metric.WithDescription("Number of known healthy workers"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(len(r.Workers(HealthyOnly))))
		return nil
	}, gauge)
	return err
}
