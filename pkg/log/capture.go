package log

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for capture files: deterministic
// output with integer keys.
var encMode cbor.EncMode

// decMode is lenient for forward compatibility with newer capture
// fields.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeUnixMicro,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// CaptureWriter appends events to a CBOR stream, one event per CBOR
// map. Safe for concurrent use.
type CaptureWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	w   io.Writer
}

// NewCaptureWriter creates a capture writer over w. The caller owns
// closing w.
func NewCaptureWriter(w io.Writer) *CaptureWriter {
	return &CaptureWriter{enc: encMode.NewEncoder(w), w: w}
}

// Log appends the event to the stream. Encoding failures are dropped;
// a capture sink must never stall a session.
func (cw *CaptureWriter) Log(event Event) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	_ = cw.enc.Encode(event)
}

// CaptureReader replays a CBOR capture stream.
type CaptureReader struct {
	dec *cbor.Decoder
}

// NewCaptureReader creates a reader over r.
func NewCaptureReader(r io.Reader) *CaptureReader {
	return &CaptureReader{dec: decMode.NewDecoder(r)}
}

// Next returns the next event, or io.EOF at end of stream.
func (cr *CaptureReader) Next() (Event, error) {
	var event Event
	if err := cr.dec.Decode(&event); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		return Event{}, fmt.Errorf("failed to decode capture event: %w", err)
	}
	return event, nil
}

// ReadAll drains the stream.
func (cr *CaptureReader) ReadAll() ([]Event, error) {
	var events []Event
	for {
		event, err := cr.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

// Compile-time interface satisfaction check.
var _ Logger = (*CaptureWriter)(nil)
