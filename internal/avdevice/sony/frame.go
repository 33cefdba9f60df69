package sony

import (
	"fmt"
	"strconv"
	"strings"
)

// Frame layout. Every message is exactly FrameLength bytes:
// 2-byte header "*S", 1-byte type, 4-byte function, 16-byte parameter,
// 1-byte 0x0A footer.
const (
	// FrameLength is the fixed size of every protocol message.
	FrameLength = 24

	frameHeader = "*S"
	frameFooter = 0x0A

	functionLength  = 4
	parameterLength = 16
)

// MessageType is the frame kind byte.
type MessageType byte

// Frame kinds.
const (
	// TypeControl requests a state change.
	TypeControl MessageType = 'C'

	// TypeEnquiry requests the current value of a function.
	TypeEnquiry MessageType = 'E'

	// TypeAnswer is the television's reply to a control or enquiry.
	TypeAnswer MessageType = 'A'

	// TypeNotify is an unsolicited state report.
	TypeNotify MessageType = 'N'
)

// Functions addressable over Simple IP control.
const (
	FuncIRCC              = "IRCC"
	FuncPower             = "POWR"
	FuncVolume            = "VOLU"
	FuncMute              = "AMUT"
	FuncChannel           = "CHNN"
	FuncTripletChannel    = "TCHN"
	FuncInputSource       = "ISRC"
	FuncInput             = "INPT"
	FuncPictureMute       = "PMUT"
	FuncTogglePictureMute = "TPMU"
	FuncPIP               = "PIPI"
	FuncTogglePIP         = "TPIP"
	FuncTogglePIPPosition = "TPPP"
)

// Fixed answer parameters.
const (
	// AnswerSuccess acknowledges a control frame.
	AnswerSuccess = "0000000000000000"

	// AnswerError reports a rejected control or enquiry.
	AnswerError = "FFFFFFFFFFFFFFFF"

	// AnswerNotFound reports an unsupported function.
	AnswerNotFound = "NNNNNNNNNNNNNNNN"
)

// BlankParameter fills the parameter field of enquiry frames.
const BlankParameter = "################"

// Frame is one decoded Simple IP control message.
type Frame struct {
	Type      MessageType
	Function  string
	Parameter string
}

// Encode serialises the frame into its 24-byte wire form.
func (f Frame) Encode() ([]byte, error) {
	switch f.Type {
	case TypeControl, TypeEnquiry, TypeAnswer, TypeNotify:
	default:
		return nil, fmt.Errorf("%w: type %q", ErrInvalidFrame, f.Type)
	}
	if len(f.Function) != functionLength {
		return nil, fmt.Errorf("%w: function %q length %d, want %d",
			ErrInvalidFrame, f.Function, len(f.Function), functionLength)
	}
	if len(f.Parameter) != parameterLength {
		return nil, fmt.Errorf("%w: parameter %q length %d, want %d",
			ErrInvalidFrame, f.Parameter, len(f.Parameter), parameterLength)
	}

	buf := make([]byte, 0, FrameLength)
	buf = append(buf, frameHeader...)
	buf = append(buf, byte(f.Type))
	buf = append(buf, f.Function...)
	buf = append(buf, f.Parameter...)
	buf = append(buf, frameFooter)
	return buf, nil
}

// ParseFrame decodes one 24-byte wire message.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) != FrameLength {
		return Frame{}, fmt.Errorf("%w: length %d, want %d",
			ErrInvalidFrame, len(data), FrameLength)
	}
	if string(data[0:2]) != frameHeader {
		return Frame{}, fmt.Errorf("%w: header %q", ErrInvalidFrame, data[0:2])
	}
	if data[FrameLength-1] != frameFooter {
		return Frame{}, fmt.Errorf("%w: footer 0x%02x", ErrInvalidFrame, data[FrameLength-1])
	}

	frame := Frame{
		Type:      MessageType(data[2]),
		Function:  string(data[3 : 3+functionLength]),
		Parameter: string(data[3+functionLength : FrameLength-1]),
	}
	switch frame.Type {
	case TypeControl, TypeEnquiry, TypeAnswer, TypeNotify:
	default:
		return Frame{}, fmt.Errorf("%w: type %q", ErrInvalidFrame, frame.Type)
	}
	return frame, nil
}

// numericParameter left-pads a value to the 16-digit parameter form.
func numericParameter(n int) string {
	return fmt.Sprintf("%0*d", parameterLength, n)
}

// boolParameter encodes an on/off value.
func boolParameter(on bool) string {
	if on {
		return numericParameter(1)
	}
	return numericParameter(0)
}

// parseNumericParameter decodes a zero-padded numeric parameter.
func parseNumericParameter(param string) (int, error) {
	if param == BlankParameter || strings.ContainsRune(param, '#') {
		return 0, fmt.Errorf("%w: parameter %q is not numeric", ErrInvalidFrame, param)
	}
	n, err := strconv.Atoi(param)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %q: %v", ErrInvalidFrame, param, err)
	}
	return n, nil
}

// Command and enquiry builders.

func newPowerCommand(on bool) Frame {
	return Frame{Type: TypeControl, Function: FuncPower, Parameter: boolParameter(on)}
}

func newPowerQuery() Frame {
	return Frame{Type: TypeEnquiry, Function: FuncPower, Parameter: BlankParameter}
}

func newMuteCommand(on bool) Frame {
	return Frame{Type: TypeControl, Function: FuncMute, Parameter: boolParameter(on)}
}

func newMuteQuery() Frame {
	return Frame{Type: TypeEnquiry, Function: FuncMute, Parameter: BlankParameter}
}

func newVolumeCommand(level int) Frame {
	return Frame{Type: TypeControl, Function: FuncVolume, Parameter: numericParameter(level)}
}

func newVolumeQuery() Frame {
	return Frame{Type: TypeEnquiry, Function: FuncVolume, Parameter: BlankParameter}
}

func newInputCommand(param string) Frame {
	return Frame{Type: TypeControl, Function: FuncInput, Parameter: param}
}

func newInputQuery() Frame {
	return Frame{Type: TypeEnquiry, Function: FuncInput, Parameter: BlankParameter}
}

func newIRCCCommand(code int) Frame {
	return Frame{Type: TypeControl, Function: FuncIRCC, Parameter: numericParameter(code)}
}
