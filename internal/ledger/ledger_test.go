package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseSemantics(t *testing.T) {
	s, err := ParseSemantics("at-most-once")
	require.NoError(t, err)
	assert.Equal(t, AtMostOnce, s)

	s, err = ParseSemantics("At-Least-Once")
	require.NoError(t, err)
	assert.Equal(t, AtLeastOnce, s)

	_, err = ParseSemantics("exactly-once")
	assert.Error(t, err)
}

func TestSemanticsString(t *testing.T) {
	assert.Equal(t, "at-most-once", AtMostOnce.String())
	assert.Equal(t, "at-least-once", AtLeastOnce.String())
}

func TestAtMostOnceDropsDuplicates(t *testing.T) {
	l := New(AtMostOnce, zap.NewNop())

	verdict, _ := l.Check(1)
	assert.Equal(t, Execute, verdict)

	l.RecordSuccess(1, []byte("Booked."), true)

	verdict, cached := l.Check(1)
	assert.Equal(t, Drop, verdict)
	assert.Nil(t, cached, "drop never carries a reply")
}

func TestAtMostOnceDropsEvenWithoutRecordedOutcome(t *testing.T) {
	// The probe itself marks the id: a retransmission that arrives while the
	// first copy is mid-flight is still suppressed.
	l := New(AtMostOnce, zap.NewNop())

	verdict, _ := l.Check(7)
	assert.Equal(t, Execute, verdict)
	verdict, _ = l.Check(7)
	assert.Equal(t, Drop, verdict)
}

func TestAtLeastOnceReplaysCachedReply(t *testing.T) {
	l := New(AtLeastOnce, zap.NewNop())

	verdict, _ := l.Check(3)
	require.Equal(t, Execute, verdict)
	l.RecordSuccess(3, []byte("Availability for Room101:"), false)

	verdict, cached := l.Check(3)
	assert.Equal(t, Replay, verdict)
	assert.Equal(t, []byte("Availability for Room101:"), cached)

	verdict, cached = l.Check(3)
	assert.Equal(t, Replay, verdict, "replay repeats for every retransmission")
	assert.Equal(t, []byte("Availability for Room101:"), cached)
}

func TestAtLeastOnceReExecutesAfterEviction(t *testing.T) {
	l := New(AtLeastOnce, zap.NewNop())

	l.Check(1)
	l.RecordSuccess(1, []byte("query reply"), false)
	l.Check(2)
	l.RecordSuccess(2, []byte("Confirmation ID: abc"), true)

	// The mutation at id 2 purged id 1's cache, so a late duplicate of id 1
	// falls through to re-execution rather than replaying stale text.
	verdict, cached := l.Check(1)
	assert.Equal(t, Execute, verdict)
	assert.Nil(t, cached)

	verdict, cached = l.Check(2)
	assert.Equal(t, Replay, verdict, "the mutation's own reply survives the purge")
	assert.Equal(t, []byte("Confirmation ID: abc"), cached)
}

func TestMutationInvalidatesWholeCache(t *testing.T) {
	l := New(AtLeastOnce, zap.NewNop())

	for id := int32(10); id < 13; id++ {
		l.Check(id)
		l.RecordSuccess(id, []byte{byte(id)}, false)
	}
	l.Check(20)
	l.RecordSuccess(20, []byte("booked"), true)

	for id := int32(10); id < 13; id++ {
		verdict, _ := l.Check(id)
		assert.Equal(t, Execute, verdict, "id %d", id)
	}
}

func TestRecordFailure(t *testing.T) {
	l := New(AtLeastOnce, zap.NewNop())

	l.Check(5)
	l.RecordFailure(5)

	verdict, cached := l.Check(5)
	assert.Equal(t, Execute, verdict, "error replies are never replayed")
	assert.Nil(t, cached)

	t.Run("drops only its own cache entry", func(t *testing.T) {
		l.Check(6)
		l.RecordSuccess(6, []byte("ok"), false)
		l.Check(7)
		l.RecordFailure(7)

		verdict, cached := l.Check(6)
		assert.Equal(t, Replay, verdict)
		assert.Equal(t, []byte("ok"), cached)
	})

	t.Run("at-most-once failure still suppresses duplicates", func(t *testing.T) {
		m := New(AtMostOnce, zap.NewNop())
		m.Check(9)
		m.RecordFailure(9)
		verdict, _ := m.Check(9)
		assert.Equal(t, Drop, verdict)
	})
}
