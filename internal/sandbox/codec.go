package sandbox

import (
	"fmt"
	"io"
	"sync"

	"github.com/bytedance/sonic"
)

// wire is the JSON configuration used on the worker pipe. ConfigStd keeps
// encoding/json semantics (sorted maps, escaped HTML) so both ends agree.
var wire = sonic.ConfigStd

// Encoder writes newline-delimited messages, one Write per message so a
// reader on an unbuffered pipe never sees a half-written frame
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates a message encoder on w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one message
func (e *Encoder) Encode(msg Message) error {
	buf, err := wire.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	buf = append(buf, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(buf)
	return err
}

// Decoder reads newline-delimited messages
type Decoder struct {
	dec sonic.Decoder
}

// NewDecoder creates a message decoder on r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: wire.NewDecoder(r)}
}

// Decode reads the next message
func (d *Decoder) Decode() (Message, error) {
	var msg Message
	if err := d.dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
