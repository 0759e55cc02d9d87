package codec

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	headerByte0    byte = 0xAA
	headerByte1    byte = 0xC0
	terminatorByte byte = 0xCC
	fillerByte     byte = 0xFF

	// CategoryBase is the category byte of every standard command
	CategoryBase byte = 0x60

	// ResultSuccess is the result code of a successful response or event
	ResultSuccess byte = 0x00

	OffsetLength   = 2
	OffsetCategory = 6
	OffsetOpcode   = 7
	OffsetResult   = 9
	OffsetValue    = 10

	minDecodeLen = 5

	// header(2) length(2) route(2) category opcode filler terminator(2)
	minFrameLen = 11
	lengthStart = 4
)

var frameRoute = []byte{0x05, 0x00}

var (
	// ErrFrameTooShort is returned for inputs of 4 bytes or less
	ErrFrameTooShort = errors.New("frame too short")
	// ErrHeaderMismatch is returned when the input does not start with AA C0
	ErrHeaderMismatch = errors.New("frame header mismatch")
	// ErrLengthMismatch is returned by Validate when the length field overruns the frame
	ErrLengthMismatch = errors.New("frame length field mismatch")
	// ErrMissingTerminator is returned by Validate when the frame does not end with CC CC
	ErrMissingTerminator = errors.New("frame terminator missing")
	// ErrOffsetOutOfRange is returned by At for offsets past the end of the frame
	ErrOffsetOutOfRange = errors.New("frame offset out of range")
)

func encodeStandard(category, opcode byte, payload []byte) []byte {
	body := make([]byte, 0, len(frameRoute)+3+len(payload))
	body = append(body, frameRoute...)
	body = append(body, category, opcode, fillerByte)
	body = append(body, payload...)

	b := make([]byte, 0, lengthStart+len(body)+2)
	b = append(b, headerByte0, headerByte1, 0, 0)
	binary.BigEndian.PutUint16(b[OffsetLength:lengthStart], uint16(len(body)))
	b = append(b, body...)
	return append(b, terminatorByte, terminatorByte)
}

// Frame is a decoded inbound frame. Fields are read at fixed offsets.
type Frame struct {
	raw []byte
}

// Decode checks the minimum length and header of b. It never panics.
func Decode(b []byte) (*Frame, error) {
	if len(b) < minDecodeLen {
		return nil, errors.Wrapf(ErrFrameTooShort, "got %d bytes", len(b))
	}
	if b[0] != headerByte0 || b[1] != headerByte1 {
		return nil, errors.Wrapf(ErrHeaderMismatch, "got % X", b[:2])
	}
	raw := make([]byte, len(b))
	copy(raw, b)
	return &Frame{raw: raw}, nil
}

// Bytes returns a copy of the frame
func (f *Frame) Bytes() []byte {
	b := make([]byte, len(f.raw))
	copy(b, f.raw)
	return b
}

// Len is the number of bytes in the frame
func (f *Frame) Len() int { return len(f.raw) }

// At returns the byte at offset i
func (f *Frame) At(i int) (byte, error) {
	if i < 0 || i >= len(f.raw) {
		return 0, errors.Wrapf(ErrOffsetOutOfRange, "offset %d of %d", i, len(f.raw))
	}
	return f.raw[i], nil
}

func (f *Frame) field(i int) (byte, bool) {
	b, err := f.At(i)
	return b, err == nil
}

// Category returns byte 6
func (f *Frame) Category() (byte, bool) { return f.field(OffsetCategory) }

// Opcode returns byte 7
func (f *Frame) Opcode() (Opcode, bool) {
	b, ok := f.field(OffsetOpcode)
	return Opcode(b), ok
}

// Result returns byte 9
func (f *Frame) Result() (byte, bool) { return f.field(OffsetResult) }

// Value returns byte 10
func (f *Frame) Value() (byte, bool) { return f.field(OffsetValue) }

// LengthField returns the big endian length at offsets 2..3
func (f *Frame) LengthField() uint16 {
	return binary.BigEndian.Uint16(f.raw[OffsetLength:lengthStart])
}

// Payload returns the bytes between the filler and the terminator
func (f *Frame) Payload() []byte {
	end := len(f.raw)
	if f.hasTerminator() {
		end -= 2
	}
	if end <= OffsetResult {
		return nil
	}
	p := make([]byte, end-OffsetResult)
	copy(p, f.raw[OffsetResult:end])
	return p
}

func (f *Frame) hasTerminator() bool {
	n := len(f.raw)
	return n >= minFrameLen && f.raw[n-1] == terminatorByte && f.raw[n-2] == terminatorByte
}

// Validate applies the strict checks Decode skips: full minimum length,
// terminator, and a length field that fits inside the frame.
func (f *Frame) Validate() error {
	if len(f.raw) < minFrameLen {
		return errors.Wrapf(ErrFrameTooShort, "got %d bytes, need %d", len(f.raw), minFrameLen)
	}
	if !f.hasTerminator() {
		return ErrMissingTerminator
	}
	if avail := len(f.raw) - lengthStart - 2; int(f.LengthField()) > avail {
		return errors.Wrapf(ErrLengthMismatch, "length %d, %d bytes available", f.LengthField(), avail)
	}
	return nil
}

func (f *Frame) is(op Opcode) bool {
	cat, ok := f.Category()
	if !ok || cat != CategoryBase {
		return false
	}
	got, ok := f.Opcode()
	return ok && got == op
}

// IsLongPress reports a successful long press event
func (f *Frame) IsLongPress() bool {
	if !f.is(OpLongPress) {
		return false
	}
	res, ok := f.Result()
	return ok && res == ResultSuccess
}

// IsRecordData reports a recorded audio data frame
func (f *Frame) IsRecordData() bool {
	return f.is(OpRecordData)
}
