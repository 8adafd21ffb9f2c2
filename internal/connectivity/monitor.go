// Package connectivity tracks whether the inventory server is reachable.
package connectivity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Prober checks reachability; the gateway's Ping satisfies it.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor holds the online flag and notifies listeners on every
// offline -> online edge. It starts offline.
type Monitor struct {
	prober   Prober
	schedule string
	timeout  time.Duration
	logger   *zap.Logger

	online atomic.Bool

	mu        sync.Mutex
	listeners []func()

	cron *cron.Cron
	ctx  context.Context
}

func New(prober Prober, schedule string, timeout time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		prober:   prober,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger,
		ctx:      context.Background(),
	}
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// OnOnline registers fn to run synchronously on each offline -> online edge.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Set records the current state. Listeners run only when the state flips to online.
func (m *Monitor) Set(online bool) {
	if !online {
		if m.online.Swap(false) {
			m.logger.Warn("server unreachable, switching to offline mode")
		}
		return
	}
	if !m.online.CompareAndSwap(false, true) {
		return
	}

	m.logger.Info("server reachable, back online")
	m.mu.Lock()
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Probe pings the server once and updates the state.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Ping(ctx)
	if err != nil {
		m.logger.Debug("probe failed", zap.Error(err))
	}
	m.Set(err == nil)
	return err == nil
}

// Start probes immediately and then on the configured cron schedule.
// A probe still running (including the sync it may trigger) causes the next
// tick to be skipped.
func (m *Monitor) Start(ctx context.Context) error {
	if m.cron != nil {
		return fmt.Errorf("connectivity monitor already started")
	}
	m.ctx = ctx

	logger := cronLogger{sugar: m.logger.Sugar()}
	job := cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(m.tick))

	c := cron.New(cron.WithLogger(logger))
	if _, err := c.AddJob(m.schedule, job); err != nil {
		return fmt.Errorf("schedule connectivity probe %q: %w", m.schedule, err)
	}
	m.cron = c

	m.logger.Info("starting connectivity monitor", zap.String("schedule", m.schedule))
	c.Start()
	go job.Run()
	return nil
}

// Stop halts the schedule and waits for a running probe to finish.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	m.logger.Info("stopping connectivity monitor")
	<-m.cron.Stop().Done()
}

func (m *Monitor) tick() {
	if m.ctx.Err() != nil {
		return
	}
	m.Probe(m.ctx)
}

type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
