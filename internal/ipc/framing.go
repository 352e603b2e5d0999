package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/zjrosen/warder/internal/werrors"
)

// maxFrameBytes bounds a single control-socket request or response, well
// above any realistic TaskEnqueue or StatusReport payload.
const maxFrameBytes = 16 * 1024 * 1024

// writeFrame writes v as a u32 little-endian length header followed by
// its JSON encoding, matching the coordination bus framing of §6.
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return werrors.Wrap(werrors.KindInternal, werrors.CodeMalformed, "marshaling frame", err)
	}
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// readFrame reads one length-prefixed JSON frame into v.
func readFrame(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	n := binary.LittleEndian.Uint32(header)
	if n > maxFrameBytes {
		return fmt.Errorf("frame of %d bytes exceeds maximum %d", n, maxFrameBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
