package codec

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Opcode selects the operation inside the base command category
type Opcode byte

const (
	OpHandshake      Opcode = 0x00
	OpDeviceInfoGet  Opcode = 0x01
	OpGesturesGet    Opcode = 0x02
	OpLongPress      Opcode = 0x0B
	OpPlayTone       Opcode = 0x0C
	OpHeartbeat      Opcode = 0x0D
	OpRecordSwitch   Opcode = 0x0E
	OpRecordData     Opcode = 0x0F
	OpVoiceHelperSet Opcode = 0x13
	OpPairingModeSet Opcode = 0x14
)

// ToneType is the prompt tone played by the glasses
type ToneType byte

const (
	ToneMicOff  ToneType = 0
	ToneMicOn   ToneType = 1
	ToneWaiting ToneType = 2
)

// VoiceHelper selects which assistant a wake gesture starts
type VoiceHelper byte

const (
	VoiceHelperSystem VoiceHelper = 0
	VoiceHelperCustom VoiceHelper = 1
)

// Command is anything that can be written to the glasses
type Command interface {
	Bytes() []byte
	String() string
}

// StandardCommand is a base category command with an optional payload
type StandardCommand struct {
	Opcode  Opcode
	Payload []byte
}

// Bytes encodes the command into a frame
func (c StandardCommand) Bytes() []byte {
	return encodeStandard(CategoryBase, byte(c.Opcode), c.Payload)
}

func (c StandardCommand) String() string {
	switch c.Opcode {
	case OpHandshake:
		return "handshake"
	case OpDeviceInfoGet:
		return "device info get"
	case OpGesturesGet:
		return "all gestures get"
	case OpPlayTone:
		switch ToneType(c.payloadByte()) {
		case ToneMicOff:
			return "play tone: mic off"
		case ToneMicOn:
			return "play tone: mic on"
		case ToneWaiting:
			return "play tone: waiting"
		}
		return "play tone"
	case OpHeartbeat:
		return "heartbeat"
	case OpRecordSwitch:
		if c.payloadByte() == 1 {
			return "record on"
		}
		return "record off"
	case OpVoiceHelperSet:
		if VoiceHelper(c.payloadByte()) == VoiceHelperCustom {
			return "set custom voice helper"
		}
		return "set system voice helper"
	case OpPairingModeSet:
		return "set pairing mode"
	}
	return fmt.Sprintf("command 0x%02X", byte(c.Opcode))
}

func (c StandardCommand) payloadByte() byte {
	if len(c.Payload) == 0 {
		return 0
	}
	return c.Payload[0]
}

// OTAInfoCommand asks the OTA service for device information. It does not
// use the standard framing.
type OTAInfoCommand struct{}

var otaInfoFrame = []byte{0xCC, 0xAA, 0x55, 0xEE, 0x12, 0x19, 0xE4}

// Bytes returns the fixed OTA info request
func (OTAInfoCommand) Bytes() []byte {
	b := make([]byte, len(otaInfoFrame))
	copy(b, otaInfoFrame)
	return b
}

func (OTAInfoCommand) String() string { return "ota device info" }

// Handshake is framed like every other standard command, so its length
// field is 00 05, not the 00 15 some clients send. Firmware accepts 00 05 and
// SplitFrames cuts frames by that field, so leave it computed.
func Handshake() Command { return StandardCommand{Opcode: OpHandshake} }

func DeviceInfoGet() Command { return StandardCommand{Opcode: OpDeviceInfoGet} }
func GesturesGet() Command   { return StandardCommand{Opcode: OpGesturesGet} }
func Heartbeat() Command     { return StandardCommand{Opcode: OpHeartbeat} }
func SetPairingMode() Command {
	return StandardCommand{Opcode: OpPairingModeSet}
}
func OTAInfo() Command { return OTAInfoCommand{} }

// PlayTone plays a prompt tone
func PlayTone(t ToneType) Command {
	return StandardCommand{Opcode: OpPlayTone, Payload: []byte{byte(t)}}
}

// SetRecord switches microphone recording on or off
func SetRecord(on bool) Command {
	var v byte
	if on {
		v = 1
	}
	return StandardCommand{Opcode: OpRecordSwitch, Payload: []byte{v}}
}

// SetVoiceHelper selects the voice assistant
func SetVoiceHelper(v VoiceHelper) Command {
	return StandardCommand{Opcode: OpVoiceHelperSet, Payload: []byte{byte(v)}}
}

// Encode returns the wire bytes of cmd
func Encode(cmd Command) []byte {
	return cmd.Bytes()
}

var namedCommands = map[string]func() Command{
	"handshake":    Handshake,
	"device-info":  DeviceInfoGet,
	"gestures":     GesturesGet,
	"heartbeat":    Heartbeat,
	"pairing":      SetPairingMode,
	"ota-info":     OTAInfo,
	"tone-mic-off": func() Command { return PlayTone(ToneMicOff) },
	"tone-mic-on":  func() Command { return PlayTone(ToneMicOn) },
	"tone-waiting": func() Command { return PlayTone(ToneWaiting) },
	"record-on":    func() Command { return SetRecord(true) },
	"record-off":   func() Command { return SetRecord(false) },
	"voice-system": func() Command { return SetVoiceHelper(VoiceHelperSystem) },
	"voice-custom": func() Command { return SetVoiceHelper(VoiceHelperCustom) },
}

// ParseCommand looks up a command by its command line name
func ParseCommand(name string) (Command, error) {
	fn, ok := namedCommands[name]
	if !ok {
		return nil, errors.Errorf("unknown command %q, want one of %v", name, CommandNames())
	}
	return fn(), nil
}

// CommandNames lists the names ParseCommand accepts
func CommandNames() []string {
	ret := make([]string, 0, len(namedCommands))
	for k := range namedCommands {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}
