package mio_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasdezeeuw/mio"
	"github.com/thomasdezeeuw/mio/internal/miotest"
	"github.com/thomasdezeeuw/mio/mionet"
)

// S1: listener accept, EDGE.
func TestScenarioListenerAcceptEdge(t *testing.T) {
	q, err := mio.NewOsQueue()
	require.NoError(t, err)
	defer q.Close()

	ln, err := mionet.ListenTCP("tcp", miotest.AnyLocalAddress())
	require.NoError(t, err)
	defer ln.Close()

	require.NoError(t, ln.Register(q, 0, mio.InterestReadable, mio.Edge))

	conn := miotest.WaitDial(t, "tcp", ln.Addr().String(), time.Second)
	defer conn.Close()

	miotest.ExpectEvents(t, q, time.Second, []mio.Event{
		mio.NewEvent(0, mio.Readable),
	})

	stream, err := ln.Accept()
	require.NoError(t, err)
	defer stream.Close()

	_, err = ln.Accept()
	miotest.AssertErrorKind(t, err, mio.KindIo)
}

// S2: drain required, 3 concurrent connects.
func TestScenarioDrainRequired(t *testing.T) {
	q, err := mio.NewOsQueue()
	require.NoError(t, err)
	defer q.Close()

	ln, err := mionet.ListenTCP("tcp", miotest.AnyLocalAddress())
	require.NoError(t, err)
	defer ln.Close()

	require.NoError(t, ln.Register(q, 0, mio.InterestReadable, mio.Edge))

	for i := 0; i < 3; i++ {
		conn := miotest.WaitDial(t, "tcp", ln.Addr().String(), time.Second)
		defer conn.Close()
	}

	sink := mio.NewFixedSink(8)
	require.NoError(t, q.Poll(sink, time.Second))
	require.NotEmpty(t, sink.Events())

	accepted := 0
	for {
		stream, err := ln.Accept()
		if err != nil {
			break
		}
		defer stream.Close()
		accepted++
	}
	assert.GreaterOrEqual(t, accepted, 2)

	for accepted < 3 {
		sink.Reset()
		require.NoError(t, q.Poll(sink, time.Second))
		for {
			stream, err := ln.Accept()
			if err != nil {
				break
			}
			defer stream.Close()
			accepted++
		}
	}
	assert.Equal(t, 3, accepted)
}

// S3: LEVEL keeps firing until the listener is fully drained.
func TestScenarioLevelKeepsFiring(t *testing.T) {
	q, err := mio.NewOsQueue()
	require.NoError(t, err)
	defer q.Close()

	ln, err := mionet.ListenTCP("tcp", miotest.AnyLocalAddress())
	require.NoError(t, err)
	defer ln.Close()

	require.NoError(t, ln.Register(q, 0, mio.InterestReadable, mio.Level))

	for i := 0; i < 4; i++ {
		conn := miotest.WaitDial(t, "tcp", ln.Addr().String(), time.Second)
		defer conn.Close()
	}

	levelEvents := 0
	for i := 0; i < 5; i++ {
		sink := mio.NewFixedSink(8)
		require.NoError(t, q.Poll(sink, time.Second))
		if len(sink.Events()) > 0 {
			levelEvents++
		}
		if stream, err := ln.Accept(); err == nil {
			stream.Close()
		}
	}
	assert.Equal(t, 4, levelEvents)
}

// S4: ONESHOT fires exactly once until reregistered.
func TestScenarioOneshot(t *testing.T) {
	q, err := mio.NewOsQueue()
	require.NoError(t, err)
	defer q.Close()

	ln, err := mionet.ListenTCP("tcp", miotest.AnyLocalAddress())
	require.NoError(t, err)
	defer ln.Close()

	require.NoError(t, ln.Register(q, 0, mio.InterestReadable, mio.Oneshot))

	for i := 0; i < 2; i++ {
		conn := miotest.WaitDial(t, "tcp", ln.Addr().String(), time.Second)
		defer conn.Close()
	}

	sink := mio.NewFixedSink(8)
	require.NoError(t, q.Poll(sink, time.Second))
	require.Len(t, sink.Events(), 1)
	assert.Equal(t, mio.EventId(0), sink.Events()[0].Id)

	sink.Reset()
	require.NoError(t, q.Poll(sink, 100*time.Millisecond))
	assert.Empty(t, sink.Events())

	require.NoError(t, ln.Reregister(q, 1, mio.InterestReadable, mio.Oneshot))

	sink.Reset()
	require.NoError(t, q.Poll(sink, time.Second))
	require.Len(t, sink.Events(), 1)
	assert.Equal(t, mio.EventId(1), sink.Events()[0].Id)
}

// S5: user-space flood preserves capacity (257 notifies, 256-cap sink).
func TestScenarioUserSpaceFloodPreservesCapacity(t *testing.T) {
	q, err := mio.NewOsQueue()
	require.NoError(t, err)
	defer q.Close()

	_, notifier := mio.NewRegistration(q, 0)
	for i := 0; i < 257; i++ {
		require.NoError(t, notifier.Notify(mio.Readable))
	}

	sink := mio.NewFixedSink(256)
	require.NoError(t, q.Poll(sink, time.Second))
	assert.Len(t, sink.Events(), 256)
	for _, e := range sink.Events() {
		assert.Equal(t, mio.EventId(0), e.Id)
		assert.True(t, e.Readiness.Contains(mio.Readable))
	}

	sink.Reset()
	require.NoError(t, q.Poll(sink, time.Second))
	assert.Len(t, sink.Events(), 1)
	assert.Equal(t, mio.EventId(0), sink.Events()[0].Id)
}

// S6: deadline flood preserves capacity (257 deadlines, 256-cap sink).
func TestScenarioDeadlineFloodPreservesCapacity(t *testing.T) {
	q, err := mio.NewOsQueue()
	require.NoError(t, err)
	defer q.Close()

	now := time.Now()
	for i := 0; i < 257; i++ {
		require.NoError(t, q.AddDeadline(0, now))
	}

	sink := mio.NewFixedSink(256)
	require.NoError(t, q.Poll(sink, time.Second))
	assert.Len(t, sink.Events(), 256)
	for _, e := range sink.Events() {
		assert.Equal(t, mio.EventId(0), e.Id)
		assert.True(t, e.Readiness.Contains(mio.Timer))
	}

	sink.Reset()
	require.NoError(t, q.Poll(sink, time.Second))
	assert.Len(t, sink.Events(), 1)
	assert.True(t, sink.Events()[0].Readiness.Contains(mio.Timer))
}
