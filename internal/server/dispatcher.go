// Package server routes decoded requests to the booking directory under the
// configured delivery semantics and runs the UDP receive loop.
package server

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/XYinfg/distributed-booking-system/internal/booking"
	"github.com/XYinfg/distributed-booking-system/internal/ledger"
	"github.com/XYinfg/distributed-booking-system/internal/monitor"
	"github.com/XYinfg/distributed-booking-system/internal/protocol"
)

// Dispatcher turns one inbound datagram into at most one reply datagram,
// applying dedup semantics and triggering monitor notifications as a side
// effect of mutations.
type Dispatcher struct {
	directory *booking.Directory
	ledger    *ledger.Ledger
	registry  *monitor.Registry
	pump      *monitor.Pump
	now       func() time.Time
	log       *zap.Logger
}

// NewDispatcher wires the dispatcher. The clock is injectable for tests;
// pass nil for time.Now.
func NewDispatcher(directory *booking.Directory, led *ledger.Ledger, registry *monitor.Registry, pump *monitor.Pump, now func() time.Time, log *zap.Logger) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		directory: directory,
		ledger:    led,
		registry:  registry,
		pump:      pump,
		now:       now,
		log:       log,
	}
}

// Handle processes one datagram and returns the encoded reply, or nil when
// no reply is owed (malformed input, suppressed duplicate, or a monitor
// registration, which answers with a push instead).
func (d *Dispatcher) Handle(data []byte, from *net.UDPAddr) []byte {
	header, payload, err := protocol.SplitMessage(data)
	if err != nil {
		// The sender cannot be trusted to have a valid request id to
		// reply to, so malformed input is dropped without a reply.
		d.log.Warn("dropping malformed message",
			zap.String("client", from.String()), zap.Error(err))
		return nil
	}

	// Decode before the dedup check so a garbled payload does not burn the
	// request id for a later intact retransmission.
	req, decodeErr := decodeRequest(header.Op, payload)
	if decodeErr != nil && !errors.Is(decodeErr, protocol.ErrUnknownOperation) {
		d.log.Warn("dropping request with malformed payload",
			zap.Int32("request_id", header.RequestID),
			zap.Stringer("op", header.Op),
			zap.Error(decodeErr))
		return nil
	}

	verdict, cached := d.ledger.Check(header.RequestID)
	switch verdict {
	case ledger.Drop:
		d.log.Info("suppressing duplicate request",
			zap.Int32("request_id", header.RequestID),
			zap.String("client", from.String()))
		return nil
	case ledger.Replay:
		d.log.Info("replaying cached reply",
			zap.Int32("request_id", header.RequestID),
			zap.String("client", from.String()))
		return cached
	}

	if decodeErr != nil {
		return d.errorReply(header, fmt.Sprintf("Unknown operation code %d.", uint8(header.Op)))
	}

	if header.Op == protocol.OpMonitorAvailability {
		return d.register(header, req.(protocol.MonitorAvailabilityRequest), from)
	}

	text, facilityChanged, err := d.execute(header.Op, req)
	if err != nil {
		d.log.Info("operation failed",
			zap.Int32("request_id", header.RequestID),
			zap.Stringer("op", header.Op),
			zap.Error(err))
		return d.errorReply(header, errorText(err))
	}

	reply, err := protocol.MarshalReply(protocol.Reply{
		RequestID: header.RequestID,
		Op:        header.Op,
		Payload:   text,
	})
	if err != nil {
		d.log.Error("encoding reply failed", zap.Error(err))
		return d.errorReply(header, "Internal server error.")
	}
	d.ledger.RecordSuccess(header.RequestID, reply, header.Op.Mutating())
	if facilityChanged != "" {
		d.pump.Notify(facilityChanged)
	}
	return reply
}

// execute runs a domain operation, returning the reply text and, for
// mutations, the canonical name of the facility that changed. Panics in
// domain logic surface as an internal error instead of killing the loop.
func (d *Dispatcher) execute(op protocol.OpCode, req any) (text string, facilityChanged string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in domain operation",
				zap.Stringer("op", op), zap.Any("panic", r))
			err = errInternal
		}
	}()

	switch op {
	case protocol.OpQueryAvailability:
		q := req.(protocol.QueryAvailabilityRequest)
		text, err = d.directory.RenderAvailability(q.FacilityName, q.Days)
		return text, "", err

	case protocol.OpBookFacility:
		b := req.(protocol.BookFacilityRequest)
		now := d.now()
		bk, err := d.directory.Book(b.FacilityName, b.Start.Occurrence(now), b.End.Occurrence(now))
		if err != nil {
			return "", "", err
		}
		return bk.ConfirmationID(), bk.FacilityName, nil

	case protocol.OpChangeBooking:
		c := req.(protocol.ChangeBookingRequest)
		id, err := parseConfirmationID(c.ConfirmationID)
		if err != nil {
			return "", "", err
		}
		bk, err := d.directory.Change(id, time.Duration(c.OffsetMinutes)*time.Minute)
		if err != nil {
			return "", "", err
		}
		return "Booking changed successfully.", bk.FacilityName, nil

	case protocol.OpExtendBooking:
		e := req.(protocol.ExtendBookingRequest)
		id, err := parseConfirmationID(e.ConfirmationID)
		if err != nil {
			return "", "", err
		}
		bk, err := d.directory.Extend(id, time.Duration(e.ExtendMinutes)*time.Minute)
		if err != nil {
			return "", "", err
		}
		return "Booking extended successfully.", bk.FacilityName, nil

	case protocol.OpGetServerStatus:
		facilities, bookings := d.directory.Status()
		return fmt.Sprintf("Server Status: %d facilities, %d bookings.", facilities, bookings), "", nil
	}
	return "", "", errInternal
}

// register handles MONITOR_AVAILABILITY: upsert the subscription and push
// the current snapshot immediately. The requester gets no direct reply; the
// push is the acknowledgement.
func (d *Dispatcher) register(header protocol.Header, req protocol.MonitorAvailabilityRequest, from *net.UDPAddr) []byte {
	f, err := d.directory.Facility(req.FacilityName)
	if err != nil {
		return d.errorReply(header, errorText(err))
	}
	ttl := time.Duration(req.IntervalMinutes) * time.Minute
	sub := d.registry.Subscribe(from, f.Name, ttl)
	d.pump.PushTo(sub)
	return nil
}

func (d *Dispatcher) errorReply(header protocol.Header, text string) []byte {
	reply, err := protocol.MarshalReply(protocol.Reply{
		RequestID: header.RequestID,
		Op:        header.Op,
		Payload:   "Error: " + text,
	})
	if err != nil {
		d.log.Error("encoding error reply failed", zap.Error(err))
		return nil
	}
	d.ledger.RecordFailure(header.RequestID)
	return reply
}

// decodeRequest decodes the payload for the given operation. A status request
// carries no payload beyond what SplitMessage already validated.
func decodeRequest(op protocol.OpCode, payload []byte) (any, error) {
	switch op {
	case protocol.OpQueryAvailability:
		return protocol.DecodeQueryAvailability(payload)
	case protocol.OpBookFacility:
		return protocol.DecodeBookFacility(payload)
	case protocol.OpChangeBooking:
		return protocol.DecodeChangeBooking(payload)
	case protocol.OpExtendBooking:
		return protocol.DecodeExtendBooking(payload)
	case protocol.OpMonitorAvailability:
		return protocol.DecodeMonitorAvailability(payload)
	case protocol.OpGetServerStatus:
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: status request carries %d payload bytes",
				protocol.ErrMalformedMessage, len(payload))
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: code %d", protocol.ErrUnknownOperation, uint8(op))
}

var errInternal = errors.New("internal error")

// errorText turns a domain error into the client-facing message.
func errorText(err error) string {
	switch {
	case errors.Is(err, booking.ErrFacilityNotFound):
		return "Facility not found."
	case errors.Is(err, booking.ErrBookingNotFound):
		return "Booking not found."
	case errors.Is(err, booking.ErrSlotUnavailable):
		return "Facility is not available for the requested time."
	case errors.Is(err, booking.ErrInvalidRange):
		return "Invalid booking time: start must precede end on the same day."
	case errors.Is(err, booking.ErrPastTime):
		return "Cannot move booking to a time in the past."
	case errors.Is(err, errBadConfirmationID):
		return "Invalid confirmation id format."
	}
	return "Internal server error."
}

var errBadConfirmationID = errors.New("invalid confirmation id")

func parseConfirmationID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %q", errBadConfirmationID, s)
	}
	return id, nil
}
