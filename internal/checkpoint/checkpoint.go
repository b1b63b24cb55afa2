// Package checkpoint persists compressed projection snapshots so recovery
// can replay from the latest snapshot instead of the full event history.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Wire layout: 8 magic bytes, a little-endian uint32 format version, then
// the zstd-compressed CBOR body.
const (
	magic       = "WFTCPT01"
	wireVersion = uint32(1)
	headerLen   = len(magic) + 4
)

// Checkpoint is a point-in-time snapshot of projection state, tied to the
// event sequence it was taken at. Events with a higher sequence must be
// replayed on top of it during recovery.
type Checkpoint struct {
	ID            string            `cbor:"id"`
	EventSequence uint64            `cbor:"event_sequence"`
	State         []byte            `cbor:"state"`
	Workflows     map[string][]byte `cbor:"workflows,omitempty"`
	CreatedAt     time.Time         `cbor:"created_at"`
}

// Timestamps keep full precision across the wire.
var encMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// New builds a checkpoint over the given serialized projection state.
func New(eventSequence uint64, state []byte) *Checkpoint {
	return &Checkpoint{
		ID:            uuid.NewString(),
		EventSequence: eventSequence,
		State:         state,
		CreatedAt:     time.Now().UTC(),
	}
}

// Encode serializes and compresses the checkpoint into its wire form.
func Encode(cp *Checkpoint) ([]byte, error) {
	body, err := encMode.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint %s: %w", cp.ID, err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}
	defer enc.Close()

	buf := make([]byte, 0, headerLen+len(body)/2)
	buf = append(buf, magic...)
	buf = binary.LittleEndian.AppendUint32(buf, wireVersion)
	return enc.EncodeAll(body, buf), nil
}

// Decode parses wire bytes produced by Encode. It rejects unknown magic
// and versions so stale or foreign files fail loudly instead of producing
// a corrupt projection.
func Decode(data []byte) (*Checkpoint, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("checkpoint truncated: %d bytes", len(data))
	}
	if !bytes.Equal(data[:len(magic)], []byte(magic)) {
		return nil, fmt.Errorf("bad checkpoint magic %q", data[:len(magic)])
	}
	if v := binary.LittleEndian.Uint32(data[len(magic):headerLen]); v != wireVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", v)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer dec.Close()

	body, err := dec.DecodeAll(data[headerLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := cbor.Unmarshal(body, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &cp, nil
}
