package store

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eventroll/rollcall/internal/events"
	"github.com/eventroll/rollcall/internal/member"
)

// Metrics holds the prometheus collectors for store operations.
type Metrics struct {
	ops           *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	subscriptions prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store operations by operation and result.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rollcall",
			Subsystem: "store",
			Name:      "operation_seconds",
			Help:      "Store operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rollcall",
			Subsystem: "store",
			Name:      "subscriptions",
			Help:      "Live branch change subscriptions.",
		}),
	}
	for _, c := range []prometheus.Collector{m.ops, m.latency, m.subscriptions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Instrument wraps s so every operation is counted and timed.
func Instrument(s Store, m *Metrics) Store {
	return &instrumented{Store: s, m: m}
}

type instrumented struct {
	Store
	m *Metrics
}

func (i *instrumented) QueryByBranch(ctx context.Context, branch string) ([]member.Record, error) {
	start := time.Now()
	records, err := i.Store.QueryByBranch(ctx, branch)
	i.m.observe(OpQuery, start, err)
	return records, err
}

func (i *instrumented) UpdateStatus(ctx context.Context, code string, status member.Status, actor member.Actor) error {
	start := time.Now()
	err := i.Store.UpdateStatus(ctx, code, status, actor)
	i.m.observe(OpUpdate, start, err)
	return err
}

func (i *instrumented) WriteStatus(ctx context.Context, code string, status member.Status, actor member.Actor) (string, error) {
	start := time.Now()
	branch, err := WriteStatus(ctx, i.Store, code, status, actor)
	i.m.observe(OpUpdate, start, err)
	return branch, err
}

func (i *instrumented) InsertMany(ctx context.Context, records []member.Record, actor member.Actor) error {
	start := time.Now()
	err := i.Store.InsertMany(ctx, records, actor)
	i.m.observe(OpInsert, start, err)
	return err
}

func (i *instrumented) HasAny(ctx context.Context) (bool, error) {
	start := time.Now()
	ok, err := i.Store.HasAny(ctx)
	i.m.observe(OpProbe, start, err)
	return ok, err
}

func (i *instrumented) Subscribe(branch string, onChange func()) (Subscription, error) {
	start := time.Now()
	sub, err := i.Store.Subscribe(branch, onChange)
	i.m.observe(OpSubscribe, start, err)
	if err != nil {
		return nil, err
	}
	i.m.subscriptions.Inc()
	return &gaugedSubscription{Subscription: sub, gauge: i.m.subscriptions}, nil
}

type gaugedSubscription struct {
	Subscription
	gauge prometheus.Gauge
	once  sync.Once
}

func (g *gaugedSubscription) Cancel() {
	g.once.Do(func() {
		g.Subscription.Cancel()
		g.gauge.Dec()
	})
}

// Publishing wraps s so successful writes are forwarded to pub. Status
// writes are published with their branch, which s reports through
// StatusWriter; writes that matched no record are not published. Publish
// failures are logged: the write itself already succeeded.
func Publishing(s Store, pub events.Publisher, logger *log.Logger) Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	return &publishing{Store: s, pub: pub, logger: logger, now: time.Now}
}

type publishing struct {
	Store
	pub    events.Publisher
	logger *log.Logger
	now    func() time.Time
}

func (p *publishing) UpdateStatus(ctx context.Context, code string, status member.Status, actor member.Actor) error {
	_, err := p.WriteStatus(ctx, code, status, actor)
	return err
}

// WriteStatus publishes a change only when a record was updated.
func (p *publishing) WriteStatus(ctx context.Context, code string, status member.Status, actor member.Actor) (string, error) {
	branch, err := WriteStatus(ctx, p.Store, code, status, actor)
	if err != nil || branch == "" {
		return branch, err
	}
	change := events.Change{
		Code:          code,
		Branch:        branch,
		Status:        status,
		UpdatedBy:     actor.Name,
		UpdatedByTeam: actor.Team,
		At:            p.now(),
	}
	if err := p.pub.Publish(ctx, change); err != nil {
		p.logger.Printf("WARNING: failed to publish change for %s: %v", code, err)
	}
	return branch, nil
}

func (p *publishing) InsertMany(ctx context.Context, records []member.Record, actor member.Actor) error {
	if err := p.Store.InsertMany(ctx, records, actor); err != nil {
		return err
	}
	at := p.now()
	changes := make([]events.Change, 0, len(records))
	for _, r := range records {
		changes = append(changes, events.Change{
			Code:          r.Code,
			Branch:        r.Branch,
			Status:        r.Status,
			UpdatedBy:     actor.Name,
			UpdatedByTeam: actor.Team,
			At:            at,
		})
	}
	if err := p.pub.Publish(ctx, changes...); err != nil {
		p.logger.Printf("WARNING: failed to publish %d inserted records: %v", len(changes), err)
	}
	return nil
}
