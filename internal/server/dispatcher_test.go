package server

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/XYinfg/distributed-booking-system/internal/booking"
	"github.com/XYinfg/distributed-booking-system/internal/ledger"
	"github.com/XYinfg/distributed-booking-system/internal/monitor"
	"github.com/XYinfg/distributed-booking-system/internal/protocol"
)

// testNow is Monday 2026-03-02 08:00 UTC.
var testNow = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

var clientAddr = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4000}

type fakeSender struct {
	mu    sync.Mutex
	sends [][]byte
}

func (s *fakeSender) Send(data []byte, _ *net.UDPAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, append([]byte(nil), data...))
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func (s *fakeSender) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends[len(s.sends)-1]
}

type fixture struct {
	dispatcher *Dispatcher
	directory  *booking.Directory
	registry   *monitor.Registry
	pump       *monitor.Pump
	sender     *fakeSender
}

func newFixture(t *testing.T, semantics ledger.Semantics) *fixture {
	t.Helper()
	now := func() time.Time { return testNow }
	log := zap.NewNop()
	directory := booking.NewDirectory(now, "Room101", "LectureHallA")
	registry := monitor.NewRegistry(now, log)
	sender := &fakeSender{}
	pump := monitor.NewPump(registry, directory, sender, log)
	led := ledger.New(semantics, log)
	return &fixture{
		dispatcher: NewDispatcher(directory, led, registry, pump, now, log),
		directory:  directory,
		registry:   registry,
		pump:       pump,
		sender:     sender,
	}
}

func decodeReply(t *testing.T, data []byte) protocol.Reply {
	t.Helper()
	require.NotNil(t, data, "expected a reply datagram")
	reply, err := protocol.DecodeReply(data)
	require.NoError(t, err)
	return reply
}

func mustMarshal(t *testing.T, data []byte, err error) []byte {
	t.Helper()
	require.NoError(t, err)
	return data
}

func bookRequest(t *testing.T, id int32, facility string, day time.Weekday, startHour, endHour int) []byte {
	t.Helper()
	data, err := protocol.MarshalBookFacility(id, protocol.BookFacilityRequest{
		FacilityName: facility,
		Start:        protocol.WeekTime{Day: day, Hour: startHour},
		End:          protocol.WeekTime{Day: day, Hour: endHour},
	})
	return mustMarshal(t, data, err)
}

func TestBookThenQueryThenModify(t *testing.T) {
	f := newFixture(t, ledger.AtMostOnce)

	// Book Monday 09:00-10:00.
	reply := decodeReply(t, f.dispatcher.Handle(bookRequest(t, 1, "Room101", time.Monday, 9, 10), clientAddr))
	assert.Equal(t, int32(1), reply.RequestID)
	confirmation := reply.Payload
	_, err := uuid.Parse(confirmation)
	require.NoError(t, err, "booking reply carries the confirmation id")

	// Query shows the booked hours.
	queryData, queryErr := protocol.MarshalQueryAvailability(2, protocol.QueryAvailabilityRequest{
		FacilityName: "Room101",
		Days:         []time.Weekday{time.Monday},
	})
	query := mustMarshal(t, queryData, queryErr)
	reply = decodeReply(t, f.dispatcher.Handle(query, clientAddr))
	assert.Contains(t, reply.Payload, "Availability for Room101:")
	assert.Contains(t, reply.Payload, "Monday:")
	assert.Contains(t, reply.Payload, "X")

	// Extend by 30 minutes.
	extendData, extendErr := protocol.MarshalExtendBooking(3, protocol.ExtendBookingRequest{
		ConfirmationID: confirmation,
		ExtendMinutes:  30,
	})
	extend := mustMarshal(t, extendData, extendErr)
	reply = decodeReply(t, f.dispatcher.Handle(extend, clientAddr))
	assert.Equal(t, "Booking extended successfully.", reply.Payload)

	// Shifting 600 minutes back lands before the clock's Monday 08:00.
	changeData, changeErr := protocol.MarshalChangeBooking(4, protocol.ChangeBookingRequest{
		ConfirmationID: confirmation,
		OffsetMinutes:  -600,
	})
	change := mustMarshal(t, changeData, changeErr)
	reply = decodeReply(t, f.dispatcher.Handle(change, clientAddr))
	assert.Equal(t, "Error: Cannot move booking to a time in the past.", reply.Payload)

	// The failed change left the booking alone.
	_, bookings := f.directory.Status()
	assert.Equal(t, 1, bookings)
	free, err := f.directory.IsAvailable("Room101",
		time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 2, 10, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, free)
}

func TestAtMostOnceSuppressesDuplicates(t *testing.T) {
	f := newFixture(t, ledger.AtMostOnce)
	msg := bookRequest(t, 1, "Room101", time.Monday, 9, 10)

	first := f.dispatcher.Handle(msg, clientAddr)
	require.NotNil(t, first)

	assert.Nil(t, f.dispatcher.Handle(msg, clientAddr), "retransmission gets no reply")
	_, bookings := f.directory.Status()
	assert.Equal(t, 1, bookings, "operation ran once")
}

func TestAtLeastOnceReplaysCachedReply(t *testing.T) {
	f := newFixture(t, ledger.AtLeastOnce)
	msg := bookRequest(t, 1, "Room101", time.Monday, 9, 10)

	first := f.dispatcher.Handle(msg, clientAddr)
	second := f.dispatcher.Handle(msg, clientAddr)
	assert.Equal(t, first, second, "retransmission gets the identical reply bytes")

	_, bookings := f.directory.Status()
	assert.Equal(t, 1, bookings, "replay does not re-execute")
}

func TestAtLeastOnceReExecutesWhenCacheEvicted(t *testing.T) {
	f := newFixture(t, ledger.AtLeastOnce)

	first := bookRequest(t, 1, "Room101", time.Monday, 9, 10)
	require.NotNil(t, f.dispatcher.Handle(first, clientAddr))

	// A second mutation purges request 1's cached reply.
	require.NotNil(t, f.dispatcher.Handle(bookRequest(t, 2, "Room101", time.Monday, 12, 13), clientAddr))

	// The late duplicate of request 1 re-executes; its slot is now taken by
	// its own first execution, so the client sees a conflict.
	reply := decodeReply(t, f.dispatcher.Handle(first, clientAddr))
	assert.Equal(t, "Error: Facility is not available for the requested time.", reply.Payload)
}

func TestMalformedMessagesDroppedWithoutBurningTheID(t *testing.T) {
	f := newFixture(t, ledger.AtMostOnce)

	t.Run("truncated header", func(t *testing.T) {
		assert.Nil(t, f.dispatcher.Handle([]byte{0x00, 0x01, 0x02}, clientAddr))
	})

	t.Run("garbled payload then intact retransmission", func(t *testing.T) {
		bad := make([]byte, protocol.HeaderSize+1)
		binary.BigEndian.PutUint32(bad[0:4], 42)
		bad[4] = byte(protocol.OpBookFacility)
		binary.BigEndian.PutUint16(bad[5:7], 1)
		assert.Nil(t, f.dispatcher.Handle(bad, clientAddr), "undecodable payload is dropped")

		// The same id arrives again with an intact payload and must execute.
		reply := decodeReply(t, f.dispatcher.Handle(bookRequest(t, 42, "Room101", time.Monday, 9, 10), clientAddr))
		_, err := uuid.Parse(reply.Payload)
		assert.NoError(t, err)
	})
}

func TestUnknownOperationCode(t *testing.T) {
	f := newFixture(t, ledger.AtMostOnce)

	msg := make([]byte, protocol.HeaderSize)
	binary.BigEndian.PutUint32(msg[0:4], 9)
	msg[4] = 99
	binary.BigEndian.PutUint16(msg[5:7], 0)

	reply := decodeReply(t, f.dispatcher.Handle(msg, clientAddr))
	assert.Equal(t, int32(9), reply.RequestID, "error reply echoes the request id")
	assert.Equal(t, "Error: Unknown operation code 99.", reply.Payload)
}

func TestMonitorRegistration(t *testing.T) {
	f := newFixture(t, ledger.AtMostOnce)

	msgData, msgErr := protocol.MarshalMonitorAvailability(1, protocol.MonitorAvailabilityRequest{
		FacilityName:    "room101",
		IntervalMinutes: 10,
	})
	msg := mustMarshal(t, msgData, msgErr)
	assert.Nil(t, f.dispatcher.Handle(msg, clientAddr), "registration answers with a push, not a reply")

	require.Equal(t, 1, f.sender.count(), "immediate snapshot push")
	header, payload, err := protocol.SplitMessage(f.sender.last())
	require.NoError(t, err)
	assert.Equal(t, protocol.PushRequestID, header.RequestID)
	update, err := protocol.DecodeAvailabilityUpdate(payload)
	require.NoError(t, err)
	assert.Equal(t, "Room101", update.FacilityName, "canonical casing in the push")

	assert.Len(t, f.registry.Subscribers("Room101"), 1)

	t.Run("unknown facility gets an error reply", func(t *testing.T) {
		msgData, msgErr := protocol.MarshalMonitorAvailability(2, protocol.MonitorAvailabilityRequest{
			FacilityName:    "Basement",
			IntervalMinutes: 10,
		})
		msg := mustMarshal(t, msgData, msgErr)
		reply := decodeReply(t, f.dispatcher.Handle(msg, clientAddr))
		assert.Equal(t, "Error: Facility not found.", reply.Payload)
		assert.Equal(t, 1, f.sender.count(), "no push for a failed registration")
	})
}

func TestMutationPushesToSubscribers(t *testing.T) {
	f := newFixture(t, ledger.AtMostOnce)

	registerData, registerErr := protocol.MarshalMonitorAvailability(1, protocol.MonitorAvailabilityRequest{
		FacilityName:    "Room101",
		IntervalMinutes: 10,
	})
	register := mustMarshal(t, registerData, registerErr)
	require.Nil(t, f.dispatcher.Handle(register, clientAddr))
	require.Equal(t, 1, f.sender.count(), "registration push")

	// The booking queues a notification; start the worker and drain it.
	require.NotNil(t, f.dispatcher.Handle(bookRequest(t, 2, "Room101", time.Monday, 9, 10), clientAddr))
	f.pump.Start()
	f.pump.Stop(time.Second)

	require.Equal(t, 2, f.sender.count(), "mutation push")
	_, payload, err := protocol.SplitMessage(f.sender.last())
	require.NoError(t, err)
	update, err := protocol.DecodeAvailabilityUpdate(payload)
	require.NoError(t, err)
	assert.Equal(t, "Room101", update.FacilityName)
	assert.Contains(t, update.Grid, "X", "push reflects the new booking")
}

func TestGetServerStatus(t *testing.T) {
	f := newFixture(t, ledger.AtMostOnce)

	statusData, statusErr := protocol.MarshalGetServerStatus(1)
	status := mustMarshal(t, statusData, statusErr)
	reply := decodeReply(t, f.dispatcher.Handle(status, clientAddr))
	assert.Equal(t, "Server Status: 2 facilities, 0 bookings.", reply.Payload)

	require.NotNil(t, f.dispatcher.Handle(bookRequest(t, 2, "Room101", time.Monday, 9, 10), clientAddr))
	status2Data, status2Err := protocol.MarshalGetServerStatus(3)
	reply = decodeReply(t, f.dispatcher.Handle(mustMarshal(t, status2Data, status2Err), clientAddr))
	assert.Equal(t, "Server Status: 2 facilities, 1 bookings.", reply.Payload)
}

func TestErrorRepliesAreNotReplayed(t *testing.T) {
	f := newFixture(t, ledger.AtLeastOnce)

	changeData, changeErr := protocol.MarshalChangeBooking(1, protocol.ChangeBookingRequest{
		ConfirmationID: "not-a-uuid",
		OffsetMinutes:  30,
	})
	change := mustMarshal(t, changeData, changeErr)
	reply := decodeReply(t, f.dispatcher.Handle(change, clientAddr))
	assert.Equal(t, "Error: Invalid confirmation id format.", reply.Payload)

	// The failure was not cached, so the duplicate re-executes and produces
	// the same error rather than a replay.
	reply = decodeReply(t, f.dispatcher.Handle(change, clientAddr))
	assert.Equal(t, "Error: Invalid confirmation id format.", reply.Payload)
}

func TestBookingNotFound(t *testing.T) {
	f := newFixture(t, ledger.AtMostOnce)

	extendData, extendErr := protocol.MarshalExtendBooking(1, protocol.ExtendBookingRequest{
		ConfirmationID: uuid.New().String(),
		ExtendMinutes:  30,
	})
	extend := mustMarshal(t, extendData, extendErr)
	reply := decodeReply(t, f.dispatcher.Handle(extend, clientAddr))
	assert.Equal(t, "Error: Booking not found.", reply.Payload)
}
