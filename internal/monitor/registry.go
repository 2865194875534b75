// Package monitor implements the availability-monitoring side of the server:
// a subscription table with a periodic expiry sweep and an asynchronous pump
// that pushes grid snapshots to subscribers when a facility changes.
package monitor

import (
	"net"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Subscription is one client endpoint watching one facility until expiry.
type Subscription struct {
	Addr         *net.UDPAddr
	FacilityName string // canonical display name
	ExpiresAt    time.Time
}

func (s Subscription) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Registry holds at most one subscription per client endpoint. Registering
// again overwrites the previous entry; expired entries are removed by the
// minute sweep.
type Registry struct {
	mu   sync.Mutex
	subs map[string]Subscription
	now  func() time.Time
	log  *zap.Logger
	cron *cron.Cron
}

// NewRegistry builds a registry. The clock is injectable for tests; pass nil
// for time.Now.
func NewRegistry(now func() time.Time, log *zap.Logger) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		subs: make(map[string]Subscription),
		now:  now,
		log:  log,
	}
}

// Subscribe upserts the endpoint's subscription with expiry now + ttl.
func (r *Registry) Subscribe(addr *net.UDPAddr, facilityName string, ttl time.Duration) Subscription {
	sub := Subscription{
		Addr:         addr,
		FacilityName: facilityName,
		ExpiresAt:    r.now().Add(ttl),
	}
	r.mu.Lock()
	r.subs[addr.String()] = sub
	r.mu.Unlock()
	r.log.Info("monitor registered",
		zap.String("client", addr.String()),
		zap.String("facility", facilityName),
		zap.Duration("ttl", ttl))
	return sub
}

// Subscribers returns the live subscriptions for a facility.
func (r *Registry) Subscribers(facilityName string) []Subscription {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Subscription
	for _, sub := range r.subs {
		if sub.FacilityName == facilityName && !sub.Expired(now) {
			out = append(out, sub)
		}
	}
	return out
}

// Sweep removes every expired subscription.
func (r *Registry) Sweep() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, sub := range r.subs {
		if sub.Expired(now) {
			delete(r.subs, key)
			r.log.Info("monitor expired",
				zap.String("client", key),
				zap.String("facility", sub.FacilityName))
		}
	}
}

// Len reports the current subscription count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Start schedules the expiry sweep once per minute.
func (r *Registry) Start() {
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", r.Sweep); err != nil {
		r.log.Error("scheduling expiry sweep failed", zap.Error(err))
	}
	c.Start()
	r.cron = c
}

// Stop halts the sweep, waiting for a running sweep to finish.
func (r *Registry) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}
