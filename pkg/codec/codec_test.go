package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"
)

var allStandard = []Command{
	Handshake(),
	DeviceInfoGet(),
	GesturesGet(),
	PlayTone(ToneMicOff),
	PlayTone(ToneMicOn),
	PlayTone(ToneWaiting),
	Heartbeat(),
	SetRecord(true),
	SetRecord(false),
	SetVoiceHelper(VoiceHelperSystem),
	SetVoiceHelper(VoiceHelperCustom),
	SetPairingMode(),
}

func TestEncodePlayTone(t *testing.T) {
	got := Encode(PlayTone(ToneMicOn))
	assert.DeepEqual(t, got, []byte{0xAA, 0xC0, 0x00, 0x06, 0x05, 0x00, 0x60, 0x0C, 0xFF, 0x01, 0xCC, 0xCC})
}

func TestEncodeHandshake(t *testing.T) {
	got := Encode(Handshake())
	assert.DeepEqual(t, got, []byte{0xAA, 0xC0, 0x00, 0x05, 0x05, 0x00, 0x60, 0x00, 0xFF, 0xCC, 0xCC})
	assert.Equal(t, int(binary.BigEndian.Uint16(got[OffsetLength:4])), 0x05)
	f, err := Decode(got)
	assert.NilError(t, err)
	assert.NilError(t, f.Validate())
}

func TestFramingLaw(t *testing.T) {
	for _, cmd := range allStandard {
		b := Encode(cmd)
		assert.Assert(t, bytes.HasPrefix(b, []byte{0xAA, 0xC0}), cmd.String())
		assert.Assert(t, bytes.HasSuffix(b, []byte{0xCC, 0xCC}), cmd.String())
		assert.Equal(t, int(binary.BigEndian.Uint16(b[2:4])), len(b)-6, cmd.String())
		assert.Equal(t, b[6], CategoryBase, cmd.String())
		assert.Equal(t, b[8], byte(0xFF), cmd.String())

		f, err := Decode(b)
		assert.NilError(t, err)
		assert.NilError(t, f.Validate())
		op, ok := f.Opcode()
		assert.Assert(t, ok)
		assert.Equal(t, op, cmd.(StandardCommand).Opcode)
	}
}

func TestOTAInfo(t *testing.T) {
	assert.DeepEqual(t, Encode(OTAInfo()), []byte{0xCC, 0xAA, 0x55, 0xEE, 0x12, 0x19, 0xE4})
	b := Encode(OTAInfo())
	b[0] = 0
	assert.Equal(t, Encode(OTAInfo())[0], byte(0xCC))
}

func TestCommandNames(t *testing.T) {
	assert.Equal(t, PlayTone(ToneWaiting).String(), "play tone: waiting")
	assert.Equal(t, SetRecord(true).String(), "record on")
	assert.Equal(t, SetRecord(false).String(), "record off")
	assert.Equal(t, StandardCommand{Opcode: 0x42}.String(), "command 0x42")
}

func TestDecodeLongPress(t *testing.T) {
	f, err := Decode([]byte{0xAA, 0xC0, 0x00, 0x05, 0x05, 0x00, 0x60, 0x0B, 0xFF, 0x00, 0xCC, 0xCC})
	assert.NilError(t, err)
	assert.Assert(t, f.IsLongPress())
	assert.Assert(t, !f.IsRecordData())
	assert.NilError(t, f.Validate())
}

func TestDecodeLongPressFailedResult(t *testing.T) {
	f, err := Decode([]byte{0xAA, 0xC0, 0x00, 0x06, 0x05, 0x00, 0x60, 0x0B, 0xFF, 0x01, 0xCC, 0xCC})
	assert.NilError(t, err)
	assert.Assert(t, !f.IsLongPress())
}

func TestDecodeRecordData(t *testing.T) {
	f, err := Decode([]byte{0xAA, 0xC0, 0x00, 0x08, 0x05, 0x00, 0x60, 0x0F, 0xFF, 0x00, 0x11, 0x22, 0xCC, 0xCC})
	assert.NilError(t, err)
	assert.Assert(t, f.IsRecordData())
	assert.DeepEqual(t, f.Payload(), []byte{0x00, 0x11, 0x22})
	v, ok := f.Value()
	assert.Assert(t, ok)
	assert.Equal(t, v, byte(0x11))
}

func TestDecodeTooShort(t *testing.T) {
	for _, b := range [][]byte{nil, {}, {0xAA}, {0xAA, 0xC0, 0x00, 0x05}} {
		_, err := Decode(b)
		assert.Equal(t, errors.Cause(err), ErrFrameTooShort)
	}
}

func TestDecodeHeaderMismatch(t *testing.T) {
	_, err := Decode([]byte{0xAB, 0xC0, 0x00, 0x05, 0x05, 0x00, 0x60, 0x0B, 0xFF, 0x00, 0xCC, 0xCC})
	assert.Equal(t, errors.Cause(err), ErrHeaderMismatch)
}

func TestShortFrameAccessors(t *testing.T) {
	f, err := Decode([]byte{0xAA, 0xC0, 0x00, 0x05, 0x05, 0x00, 0x60})
	assert.NilError(t, err)
	_, ok := f.Opcode()
	assert.Assert(t, !ok)
	assert.Assert(t, !f.IsLongPress())
	assert.Assert(t, !f.IsRecordData())
	_, err = f.At(12)
	assert.Equal(t, errors.Cause(err), ErrOffsetOutOfRange)
	assert.Equal(t, errors.Cause(f.Validate()), ErrFrameTooShort)
}

func TestValidate(t *testing.T) {
	f, _ := Decode([]byte{0xAA, 0xC0, 0x00, 0x05, 0x05, 0x00, 0x60, 0x0B, 0xFF, 0x00, 0xCC, 0x00})
	assert.Equal(t, errors.Cause(f.Validate()), ErrMissingTerminator)

	f, _ = Decode([]byte{0xAA, 0xC0, 0x00, 0x30, 0x05, 0x00, 0x60, 0x0B, 0xFF, 0x00, 0xCC, 0xCC})
	assert.Equal(t, errors.Cause(f.Validate()), ErrLengthMismatch)
}

func TestSplitFrames(t *testing.T) {
	stream := append([]byte{0x01, 0x02}, Encode(Heartbeat())...)
	stream = append(stream, Encode(PlayTone(ToneMicOff))...)
	stream = append(stream, 0xAA, 0xC0, 0x00)

	sc := bufio.NewScanner(bytes.NewReader(stream))
	sc.Split(SplitFrames)
	var got [][]byte
	for sc.Scan() {
		got = append(got, append([]byte(nil), sc.Bytes()...))
	}
	assert.NilError(t, sc.Err())
	assert.Assert(t, is.Len(got, 2))
	assert.DeepEqual(t, got[0], Encode(Heartbeat()))
	assert.DeepEqual(t, got[1], Encode(PlayTone(ToneMicOff)))
}

func TestReassembler(t *testing.T) {
	frame := Encode(SetVoiceHelper(VoiceHelperCustom))
	r := &Reassembler{}
	assert.Assert(t, is.Len(r.Feed(frame[:3]), 0))
	assert.Assert(t, is.Len(r.Feed(frame[3:7]), 0))
	rest := append(append([]byte(nil), frame[7:]...), Encode(Heartbeat())...)
	got := r.Feed(rest)
	assert.Assert(t, is.Len(got, 2))
	assert.DeepEqual(t, got[0], frame)
	assert.DeepEqual(t, got[1], Encode(Heartbeat()))

	r.Feed([]byte{0xAA, 0xC0, 0x00})
	r.Reset()
	assert.Assert(t, is.Len(r.Feed(Encode(Heartbeat())), 1))
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("record-on")
	assert.NilError(t, err)
	assert.DeepEqual(t, Encode(cmd), Encode(SetRecord(true)))

	cmd, err = ParseCommand("ota-info")
	assert.NilError(t, err)
	assert.Equal(t, cmd.String(), "ota device info")

	_, err = ParseCommand("explode")
	assert.ErrorContains(t, err, "unknown command")
	assert.Assert(t, is.Contains(CommandNames(), "heartbeat"))
}

func TestReassemblerKeepsTerminatorBytesInPayload(t *testing.T) {
	for _, payload := range [][]byte{{0x01, 0xCC, 0xCC, 0x02}, {0x01, 0xCC}} {
		frame := encodeStandard(CategoryBase, byte(OpRecordData), payload)
		r := &Reassembler{}
		assert.Assert(t, is.Len(r.Feed(frame[:10]), 0))
		got := r.Feed(append(append([]byte(nil), frame[10:]...), Encode(Heartbeat())...))
		assert.Assert(t, is.Len(got, 2))
		assert.DeepEqual(t, got[0], frame)
		assert.DeepEqual(t, got[1], Encode(Heartbeat()))

		f, err := Decode(got[0])
		assert.NilError(t, err)
		assert.NilError(t, f.Validate())
		assert.Assert(t, f.IsRecordData())
		assert.DeepEqual(t, f.Payload(), payload)
	}
}

func TestSplitFramesResyncsAfterBadTerminator(t *testing.T) {
	stream := []byte{0xAA, 0xC0, 0x00, 0x05, 0x05, 0x00, 0x60, 0x0D, 0xFF, 0x00, 0x00}
	stream = append(stream, Encode(PlayTone(ToneMicOn))...)

	sc := bufio.NewScanner(bytes.NewReader(stream))
	sc.Split(SplitFrames)
	var got [][]byte
	for sc.Scan() {
		got = append(got, append([]byte(nil), sc.Bytes()...))
	}
	assert.NilError(t, sc.Err())
	assert.Assert(t, is.Len(got, 1))
	assert.DeepEqual(t, got[0], Encode(PlayTone(ToneMicOn)))
}
