package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"sync"
)

var header = []byte{headerByte0, headerByte1}
var terminator = []byte{terminatorByte, terminatorByte}

// SplitFrames is a bufio.SplitFunc yielding one standard frame per token.
// The frame end comes from the length field, so payload bytes equal to the
// terminator are kept. Bytes ahead of a header are skipped, a header whose
// frame does not end in CC CC is skipped, and a trailing partial frame is
// dropped at EOF.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, header)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing AA which may begin the next header
		if n := len(data); n > 0 && data[n-1] == headerByte0 {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	body := data[start:]
	if len(body) < lengthStart {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	end := lengthStart + int(binary.BigEndian.Uint16(body[OffsetLength:lengthStart])) + len(terminator)
	if end < minFrameLen {
		return start + 1, nil, nil
	}
	if len(body) < end {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	if !bytes.Equal(body[end-len(terminator):end], terminator) {
		return start + 1, nil, nil
	}
	return start + end, body[:end], nil
}

// Reassembler joins notification chunks into whole frames
type Reassembler struct {
	mu  sync.Mutex
	buf []byte
}

// Feed appends chunk and returns every complete frame now buffered
func (r *Reassembler) Feed(chunk []byte) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, chunk...)
	var frames [][]byte
	for {
		adv, tok, _ := SplitFrames(r.buf, false)
		if tok != nil {
			f := make([]byte, len(tok))
			copy(f, tok)
			frames = append(frames, f)
		}
		if adv == 0 {
			break
		}
		r.buf = r.buf[adv:]
	}
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return frames
}

// Reset drops any buffered partial frame
func (r *Reassembler) Reset() {
	r.mu.Lock()
	r.buf = nil
	r.mu.Unlock()
}

var _ bufio.SplitFunc = SplitFrames
