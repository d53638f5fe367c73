// Package timer implements the named-countdown registry. Expiries are
// detected by a periodic scan and handed to the owner over a channel;
// no caller code runs inside the scan loop.
package timer

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/clock"
	"github.com/Jakers471/risk-manager-v34-sub006/pkg/metrics"
)

// DefaultScanInterval is the production scan cadence. Expiries fire at
// least as late as requested, typically within one interval.
const DefaultScanInterval = time.Second

// Expiration is posted on the registry channel when a countdown fires.
// Token is the opaque value supplied at registration.
type Expiration struct {
	Name    string
	Token   string
	FiredAt time.Time
}

type entry struct {
	name   string
	fireAt time.Time
	token  string
}

func entryLess(a, b *entry) bool {
	if a.fireAt.Equal(b.fireAt) {
		return a.name < b.name
	}
	return a.fireAt.Before(b.fireAt)
}

// Registry tracks named countdowns. One scan goroutine finds due
// entries; a separate dispatch goroutine delivers them, so a slow
// consumer never stalls the scan.
type Registry struct {
	logger   *zap.Logger
	clock    clock.Clock
	interval time.Duration

	mu     sync.Mutex
	byName map[string]*entry
	byTime *btree.BTreeG[*entry]
	due    []Expiration

	expirations chan Expiration
	dispatchCh  chan struct{}
	stopCh      chan struct{}
	scanDone    chan struct{}
	wg          sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewRegistry creates a registry scanning at the given interval.
func NewRegistry(clk clock.Clock, interval time.Duration, logger *zap.Logger) *Registry {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &Registry{
		logger:      logger.With(zap.String("component", "timer")),
		clock:       clk,
		interval:    interval,
		byName:      make(map[string]*entry),
		byTime:      btree.NewBTreeG(entryLess),
		expirations: make(chan Expiration, 64),
		dispatchCh:  make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		scanDone:    make(chan struct{}),
	}
}

// Start launches the scan and dispatch goroutines.
func (r *Registry) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(2)
		go r.scanLoop()
		go r.dispatchLoop()
		r.logger.Info("Timer registry started", zap.Duration("interval", r.interval))
	})
}

// Stop halts scanning, delivers already-due expirations and closes the
// expiration channel.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
		close(r.expirations)
		r.logger.Info("Timer registry stopped")
	})
}

// Expirations returns the delivery channel. It is closed by Stop.
func (r *Registry) Expirations() <-chan Expiration {
	return r.expirations
}

// Register arms a countdown of duration d under name. Registering an
// existing name replaces the prior entry. The token is returned with
// the expiration.
func (r *Registry) Register(name string, d time.Duration, token string) {
	fireAt := r.clock.Now().Add(d)
	r.RegisterAt(name, fireAt, token)
}

// RegisterAt arms a countdown firing at an absolute instant.
func (r *Registry) RegisterAt(name string, fireAt time.Time, token string) {
	r.mu.Lock()
	if old, ok := r.byName[name]; ok {
		r.byTime.Delete(old)
	}
	e := &entry{name: name, fireAt: fireAt, token: token}
	r.byName[name] = e
	r.byTime.Set(e)
	size := len(r.byName)
	r.mu.Unlock()

	metrics.ActiveTimers.Set(float64(size))
	r.logger.Debug("Timer registered",
		zap.String("name", name),
		zap.Time("fire_at", fireAt))
}

// Cancel removes a countdown. It reports whether the name was armed.
func (r *Registry) Cancel(name string) bool {
	r.mu.Lock()
	e, ok := r.byName[name]
	if ok {
		delete(r.byName, name)
		r.byTime.Delete(e)
	}
	size := len(r.byName)
	r.mu.Unlock()

	metrics.ActiveTimers.Set(float64(size))
	if ok {
		r.logger.Debug("Timer cancelled", zap.String("name", name))
	}
	return ok
}

// Remaining reports the time left on a countdown, clamped at zero, and
// whether the name is armed.
func (r *Registry) Remaining(name string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	d := e.fireAt.Sub(r.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Len returns the number of armed countdowns.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

func (r *Registry) scanLoop() {
	defer r.wg.Done()
	defer close(r.scanDone)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Timer scan loop panicked",
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.collectDue()
		case <-r.stopCh:
			r.collectDue()
			return
		}
	}
}

// collectDue moves entries whose instant has passed from the index to
// the dispatch queue. An entry fires exactly once: it is removed here,
// before delivery.
func (r *Registry) collectDue() {
	now := r.clock.Now()

	r.mu.Lock()
	var fired []*entry
	r.byTime.Scan(func(e *entry) bool {
		if e.fireAt.After(now) {
			return false
		}
		fired = append(fired, e)
		return true
	})
	for _, e := range fired {
		r.byTime.Delete(e)
		delete(r.byName, e.name)
		r.due = append(r.due, Expiration{Name: e.name, Token: e.token, FiredAt: now})
	}
	size := len(r.byName)
	queued := len(r.due)
	r.mu.Unlock()

	if len(fired) > 0 {
		metrics.ActiveTimers.Set(float64(size))
		r.logger.Debug("Timers due", zap.Int("count", len(fired)), zap.Int("queued", queued))
		select {
		case r.dispatchCh <- struct{}{}:
		default:
		}
	}
}

func (r *Registry) dispatchLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.dispatchCh:
			r.flushDue(false)
		case <-r.stopCh:
			// The scan loop queues its final batch before scanDone
			// closes; the last flush must not block on a departed
			// consumer.
			<-r.scanDone
			r.flushDue(true)
			return
		}
	}
}

func (r *Registry) flushDue(bestEffort bool) {
	for {
		r.mu.Lock()
		if len(r.due) == 0 {
			r.mu.Unlock()
			return
		}
		exp := r.due[0]
		r.due = r.due[1:]
		r.mu.Unlock()

		if bestEffort {
			select {
			case r.expirations <- exp:
			default:
				r.logger.Warn("Dropping expiration at shutdown", zap.String("name", exp.Name))
			}
			continue
		}
		select {
		case r.expirations <- exp:
		case <-r.stopCh:
			r.mu.Lock()
			r.due = append([]Expiration{exp}, r.due...)
			r.mu.Unlock()
			return
		}
	}
}
