package monitor

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/XYinfg/distributed-booking-system/internal/booking"
	"github.com/XYinfg/distributed-booking-system/internal/protocol"
)

// Sender sends one encoded datagram. Satisfied by transport.Conn.
type Sender interface {
	Send(data []byte, addr *net.UDPAddr) error
}

// Pump fans availability updates out to monitors off the request path. One
// worker goroutine drains a queue of facility-changed events so a slow or
// unreachable subscriber never stalls request handling or other pushes.
// Delivery is fire-and-forget: a failed push is logged, not retried, and the
// subscription stays.
type Pump struct {
	registry  *Registry
	directory *booking.Directory
	sender    Sender
	log       *zap.Logger

	events  chan string
	done    chan struct{}
	started bool
}

const eventBacklog = 64

func NewPump(registry *Registry, directory *booking.Directory, sender Sender, log *zap.Logger) *Pump {
	return &Pump{
		registry:  registry,
		directory: directory,
		sender:    sender,
		log:       log,
		events:    make(chan string, eventBacklog),
		done:      make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (p *Pump) Start() {
	p.started = true
	go func() {
		defer close(p.done)
		for facilityName := range p.events {
			for _, sub := range p.registry.Subscribers(facilityName) {
				p.PushTo(sub)
			}
		}
	}()
}

// Notify enqueues a facility-changed event. It never blocks the caller: when
// the backlog is full the event is dropped with a warning, since a later
// event carries the same (current) snapshot anyway.
func (p *Pump) Notify(facilityName string) {
	select {
	case p.events <- facilityName:
	default:
		p.log.Warn("notification backlog full, dropping event",
			zap.String("facility", facilityName))
	}
}

// PushTo sends the facility's current grid snapshot to one subscriber. Also
// called synchronously by the dispatcher for the immediate push a fresh
// registration receives.
func (p *Pump) PushTo(sub Subscription) {
	grid, err := p.directory.Snapshot(sub.FacilityName)
	if err != nil {
		p.log.Error("snapshot for push failed",
			zap.String("facility", sub.FacilityName), zap.Error(err))
		return
	}
	data, err := protocol.MarshalAvailabilityUpdate(protocol.AvailabilityUpdate{
		FacilityName: sub.FacilityName,
		Grid:         grid,
	})
	if err != nil {
		p.log.Error("encoding push failed",
			zap.String("facility", sub.FacilityName), zap.Error(err))
		return
	}
	if err := p.sender.Send(data, sub.Addr); err != nil {
		p.log.Warn("push delivery failed",
			zap.String("client", sub.Addr.String()),
			zap.String("facility", sub.FacilityName),
			zap.Error(err))
		return
	}
	p.log.Debug("availability update pushed",
		zap.String("client", sub.Addr.String()),
		zap.String("facility", sub.FacilityName))
}

// Stop closes the queue and waits up to the grace period for the worker to
// drain it. Without a prior Start there is no worker to wait for.
func (p *Pump) Stop(grace time.Duration) {
	close(p.events)
	if !p.started {
		return
	}
	select {
	case <-p.done:
	case <-time.After(grace):
		p.log.Warn("notification pump did not drain in time")
	}
}
