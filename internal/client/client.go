// Package client implements the blocking request/response loop a booking
// client runs against the server, with retry behavior chosen by the
// configured delivery semantics.
package client

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/XYinfg/distributed-booking-system/internal/ledger"
	"github.com/XYinfg/distributed-booking-system/internal/protocol"
)

// ErrTimeout reports that no reply arrived within the allotted attempts.
// Under at-most-once the caller gives up after one wait; under at-least-once
// the attempts were exhausted.
var ErrTimeout = errors.New("no reply from server")

// ErrServer wraps the text of a server error reply.
var ErrServer = errors.New("server error")

type Client struct {
	conn      *net.UDPConn
	semantics ledger.Semantics
	timeout   time.Duration
	attempts  int
	nextID    int32
	log       *zap.Logger
}

// Dial connects to the server. timeout is the total wait budget per request;
// at-least-once splits it across attempts.
func Dial(serverAddr string, semantics ledger.Semantics, timeout time.Duration, attempts int, log *zap.Logger) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving server address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing server: %w", err)
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		conn:      conn,
		semantics: semantics,
		timeout:   timeout,
		attempts:  attempts,
		log:       log,
	}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// NextRequestID hands out monotonically increasing ids. Retransmissions of
// one logical request reuse the id so the server's ledger recognizes them.
func (c *Client) NextRequestID() int32 {
	c.nextID++
	return c.nextID
}

// do sends the encoded request and waits for the matching reply. The same
// bytes, with the same request id, are resent on every retry.
func (c *Client) do(requestID int32, data []byte) (protocol.Reply, error) {
	tries, wait := 1, c.timeout
	if c.semantics == ledger.AtLeastOnce {
		tries = c.attempts
		wait = c.timeout / time.Duration(tries)
	}

	buf := make([]byte, protocol.MaxMessageSize)
	for attempt := 1; attempt <= tries; attempt++ {
		if _, err := c.conn.Write(data); err != nil {
			return protocol.Reply{}, fmt.Errorf("sending request: %w", err)
		}
		deadline := time.Now().Add(wait)
		reply, err := c.awaitReply(requestID, buf, deadline)
		if err == nil {
			return reply, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return protocol.Reply{}, err
		}
		c.log.Debug("request timed out",
			zap.Int32("request_id", requestID),
			zap.Int("attempt", attempt))
	}
	return protocol.Reply{}, fmt.Errorf("%w after %d attempt(s)", ErrTimeout, tries)
}

// awaitReply reads until the deadline, skipping pushes and stale replies
// whose id does not match the outstanding request.
func (c *Client) awaitReply(requestID int32, buf []byte, deadline time.Time) (protocol.Reply, error) {
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return protocol.Reply{}, err
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return protocol.Reply{}, ErrTimeout
			}
			return protocol.Reply{}, fmt.Errorf("reading reply: %w", err)
		}
		reply, err := protocol.DecodeReply(buf[:n])
		if err != nil {
			c.log.Warn("discarding undecodable reply", zap.Error(err))
			continue
		}
		if reply.RequestID != requestID {
			c.log.Debug("discarding unexpected reply",
				zap.Int32("got", reply.RequestID),
				zap.Int32("want", requestID))
			continue
		}
		return reply, nil
	}
}

// result unwraps the reply text, converting a server error reply into an
// ErrServer.
func result(reply protocol.Reply, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if msg, isErr := strings.CutPrefix(reply.Payload, "Error: "); isErr {
		return "", fmt.Errorf("%w: %s", ErrServer, msg)
	}
	return reply.Payload, nil
}

// QueryAvailability fetches the O/X availability table for the given days.
func (c *Client) QueryAvailability(facilityName string, days []time.Weekday) (string, error) {
	id := c.NextRequestID()
	data, err := protocol.MarshalQueryAvailability(id, protocol.QueryAvailabilityRequest{
		FacilityName: facilityName,
		Days:         days,
	})
	if err != nil {
		return "", err
	}
	return result(c.do(id, data))
}

// Book reserves the facility for a same-day range and returns the
// confirmation id.
func (c *Client) Book(facilityName string, start, end protocol.WeekTime) (string, error) {
	id := c.NextRequestID()
	data, err := protocol.MarshalBookFacility(id, protocol.BookFacilityRequest{
		FacilityName: facilityName,
		Start:        start,
		End:          end,
	})
	if err != nil {
		return "", err
	}
	return result(c.do(id, data))
}

// Change shifts an existing booking by a signed minute offset.
func (c *Client) Change(confirmationID string, offsetMinutes int32) (string, error) {
	id := c.NextRequestID()
	data, err := protocol.MarshalChangeBooking(id, protocol.ChangeBookingRequest{
		ConfirmationID: confirmationID,
		OffsetMinutes:  offsetMinutes,
	})
	if err != nil {
		return "", err
	}
	return result(c.do(id, data))
}

// Extend pushes an existing booking's end time out by the given minutes.
func (c *Client) Extend(confirmationID string, extendMinutes int32) (string, error) {
	id := c.NextRequestID()
	data, err := protocol.MarshalExtendBooking(id, protocol.ExtendBookingRequest{
		ConfirmationID: confirmationID,
		ExtendMinutes:  extendMinutes,
	})
	if err != nil {
		return "", err
	}
	return result(c.do(id, data))
}

// Status fetches the aggregate facility/booking counts.
func (c *Client) Status() (string, error) {
	id := c.NextRequestID()
	data, err := protocol.MarshalGetServerStatus(id)
	if err != nil {
		return "", err
	}
	return result(c.do(id, data))
}

// Monitor registers for availability pushes and invokes onUpdate for each
// push until the interval lapses. Registration produces no direct reply;
// the immediate snapshot push doubles as the acknowledgement. An error
// reply (unknown facility) is surfaced as ErrServer.
func (c *Client) Monitor(facilityName string, intervalMinutes int32, onUpdate func(protocol.AvailabilityUpdate)) error {
	id := c.NextRequestID()
	data, err := protocol.MarshalMonitorAvailability(id, protocol.MonitorAvailabilityRequest{
		FacilityName:    facilityName,
		IntervalMinutes: intervalMinutes,
	})
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("sending monitor registration: %w", err)
	}

	buf := make([]byte, protocol.MaxMessageSize)
	end := time.Now().Add(time.Duration(intervalMinutes) * time.Minute)
	for {
		if err := c.conn.SetReadDeadline(end); err != nil {
			return err
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil // interval over
			}
			return fmt.Errorf("reading push: %w", err)
		}
		header, payload, err := protocol.SplitMessage(buf[:n])
		if err != nil {
			c.log.Warn("discarding undecodable push", zap.Error(err))
			continue
		}
		if header.RequestID == id {
			// The registration was rejected with an error reply.
			_, err := result(protocol.Reply{RequestID: id, Op: header.Op, Payload: string(payload)}, nil)
			return err
		}
		if header.RequestID != protocol.PushRequestID {
			continue
		}
		update, err := protocol.DecodeAvailabilityUpdate(payload)
		if err != nil {
			c.log.Warn("discarding malformed push payload", zap.Error(err))
			continue
		}
		onUpdate(update)
	}
}
