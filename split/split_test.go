package split_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/B83C/rmk/internal/log"
	"github.com/B83C/rmk/keyevent"
	"github.com/B83C/rmk/split"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []split.Message{
		split.KeyMessage(3, 4, true),
		split.KeyMessage(0, 0, false),
		split.LedStateMessage(true, false, true),
		split.ConnectionStateMessage(true),
	}
	for _, m := range cases {
		data := m.Marshal()
		got, err := split.Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestUnmarshalRejectsShortAndUnknown(t *testing.T) {
	_, err := split.Unmarshal(nil)
	assert.Error(t, err)

	_, err = split.Unmarshal([]byte{byte(split.TagKey), 1})
	assert.Error(t, err)

	_, err = split.Unmarshal([]byte{0x7F, 1, 2, 3})
	assert.Error(t, err)
}

func TestSerialFrameRoundTripThroughParser(t *testing.T) {
	parser := split.NewSerialParser(nil)
	frame := split.EncodeSerialFrame(split.KeyMessage(1, 2, true))

	got := parser.Feed(frame)
	require.Len(t, got, 1)
	assert.Equal(t, split.KeyMessage(1, 2, true), got[0])
}

func TestSerialParserHandlesSplitChunks(t *testing.T) {
	parser := split.NewSerialParser(nil)
	frame := split.EncodeSerialFrame(split.KeyMessage(5, 6, false))

	assert.Empty(t, parser.Feed(frame[:2]))
	got := parser.Feed(frame[2:])
	require.Len(t, got, 1)
	assert.Equal(t, split.KeyMessage(5, 6, false), got[0])
}

func TestSerialParserDropsCorruptFrame(t *testing.T) {
	parser := split.NewSerialParser(nil)
	frame := split.EncodeSerialFrame(split.KeyMessage(1, 1, true))
	frame[len(frame)-1] ^= 0xFF // corrupt the CRC

	good := split.EncodeSerialFrame(split.KeyMessage(2, 2, false))

	got := parser.Feed(append(frame, good...))
	require.Len(t, got, 1)
	assert.Equal(t, split.KeyMessage(2, 2, false), got[0])
}

func TestSerialReaderReadsOneFrameAtATime(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(split.EncodeSerialFrame(split.KeyMessage(1, 1, true)))
	buf.Write(split.EncodeSerialFrame(split.KeyMessage(2, 2, false)))

	r := split.NewSerialReader(&buf, nil)
	m1, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, split.KeyMessage(1, 1, true), m1)

	m2, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, split.KeyMessage(2, 2, false), m2)
}

func TestSerialWriterAndReaderHexDumpThroughRawLogger(t *testing.T) {
	var wireLog bytes.Buffer
	raw := log.NewRaw(&wireLog)

	var wire bytes.Buffer
	w := split.NewSerialWriter(&wire)
	w.SetRawLogger(raw)
	require.NoError(t, w.Write(split.KeyMessage(1, 2, true)))
	assert.Contains(t, wireLog.String(), "ENGINE->WIRE")

	r := split.NewSerialReader(&wire, nil)
	r.SetRawLogger(raw)
	msg, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, split.KeyMessage(1, 2, true), msg)
	assert.Contains(t, wireLog.String(), "WIRE->ENGINE")
}

type loopback struct {
	buf bytes.Buffer
}

func (l *loopback) Read(p []byte) (int, error)  { return l.buf.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.buf.Write(p) }

func TestEncryptedLinkRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	lb := &loopback{}

	link, err := split.NewEncryptedLink(lb, key)
	require.NoError(t, err)

	require.NoError(t, link.WriteMessage(split.KeyMessage(7, 8, true)))
	got, err := link.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, split.KeyMessage(7, 8, true), got)
}

func TestEncryptedLinkRejectsTamperedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	lb := &loopback{}

	link, err := split.NewEncryptedLink(lb, key)
	require.NoError(t, err)
	require.NoError(t, link.WriteMessage(split.KeyMessage(1, 1, true)))

	raw := lb.buf.Bytes()
	raw[len(raw)-1] ^= 0xFF

	_, err = link.ReadMessage()
	assert.Error(t, err)
}

func TestPeripheralMatrixMonitorTranslatesCoordinates(t *testing.T) {
	ch := keyevent.NewChannel(4, nil)
	geom := split.Geometry{Rows: 4, Cols: 6, RowOffset: 2, ColOffset: 0}
	mon := split.NewPeripheralMatrixMonitor(geom, ch, nil)

	require.NoError(t, mon.Forward(split.KeyMessage(0, 3, true)))

	select {
	case ev := <-ch.Recv():
		assert.Equal(t, uint8(2), ev.Row)
		assert.Equal(t, uint8(3), ev.Col)
		assert.True(t, ev.Pressed)
	case <-time.After(time.Second):
		t.Fatal("expected a forwarded KeyEvent")
	}
}

func TestPeripheralMatrixMonitorRejectsOutOfRangeAtBoundary(t *testing.T) {
	ch := keyevent.NewChannel(4, nil)
	geom := split.Geometry{Rows: 4, Cols: 6, RowOffset: 0, ColOffset: 0}
	mon := split.NewPeripheralMatrixMonitor(geom, ch, nil)

	// row == Rows is out of range; a buggy `>` check would let this through.
	err := mon.Forward(split.KeyMessage(4, 0, true))
	assert.Error(t, err)

	err = mon.Forward(split.KeyMessage(0, 6, true))
	assert.Error(t, err)
}

func TestPeripheralMatrixMonitorRejectsNonKeyMessage(t *testing.T) {
	ch := keyevent.NewChannel(4, nil)
	mon := split.NewPeripheralMatrixMonitor(split.Geometry{Rows: 4, Cols: 4}, ch, nil)
	err := mon.Forward(split.ConnectionStateMessage(true))
	assert.Error(t, err)
}

type fakePeripheral struct {
	transport *fakeTransport
}

func (f *fakePeripheral) Dial(ctx context.Context) (split.BLETransport, error) {
	return f.transport, nil
}

type fakeTransport struct {
	notify chan split.Message
	closed bool
}

func (f *fakeTransport) Notifications(ctx context.Context) (<-chan split.Message, error) {
	return f.notify, nil
}
func (f *fakeTransport) Send(ctx context.Context, m split.Message) error { return nil }
func (f *fakeTransport) Close() error                                   { f.closed = true; return nil }

func TestSyncCoordinatorQueuesUntilStart(t *testing.T) {
	ch := keyevent.NewChannel(4, nil)
	mon := split.NewPeripheralMatrixMonitor(split.Geometry{Rows: 4, Cols: 4, RowOffset: 1}, ch, nil)

	notify := make(chan split.Message, 1)
	transport := &fakeTransport{notify: notify}
	coord := split.NewSyncCoordinator(&fakePeripheral{transport: transport}, mon, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx, nil) }()

	notify <- split.KeyMessage(0, 0, true)

	select {
	case <-ch.Recv():
		t.Fatal("Key notification should be queued, not forwarded, before Start is called")
	case <-time.After(100 * time.Millisecond):
	}

	var sent int
	require.Eventually(t, func() bool {
		sent = coord.Start()
		return sent > 0
	}, time.Second, 10*time.Millisecond, "expected the queued notification to eventually be visible to Start")
	assert.Equal(t, 1, sent)

	select {
	case ev := <-ch.Recv():
		assert.Equal(t, uint8(1), ev.Row)
	case <-time.After(time.Second):
		t.Fatal("expected forwarded event after Start")
	}

	assert.Equal(t, 0, coord.Start(), "a second Start with nothing queued should flush nothing")

	cancel()
	<-done
}
