package sony

import (
	"fmt"
	"strconv"

	"github.com/nerrad567/gray-logic-av/internal/avdevice"
)

// Input codes fold the wire encoding into one number as kind*100+index.
// The INPT parameter is two zero-padded 8-digit fields, kind then index:
// kind 1 is HDMI, 3 composite, 4 component, 5 screen mirroring. NETFLIX
// is not a selectable source on the wire; it launches via remote code
// 56 and keeps that number here.
var Inputs = map[string]avdevice.InputCode{
	"TV":            0,
	"HDMI1":         101,
	"HDMI2":         102,
	"HDMI3":         103,
	"HDMI4":         104,
	"COMPOSITE":     301,
	"COMPONENT":     401,
	"SCREEN_MIRROR": 501,
	"NETFLIX":       inputNetflix,
	"UNKNOWN":       avdevice.InputUnknown,
}

const inputNetflix avdevice.InputCode = 56

var inputNames = func() map[avdevice.InputCode]string {
	names := make(map[avdevice.InputCode]string, len(Inputs))
	for name, code := range Inputs {
		names[code] = name
	}
	return names
}()

// InputByName resolves a display name like "HDMI2" to its code.
func InputByName(name string) (avdevice.InputCode, error) {
	code, ok := Inputs[name]
	if !ok {
		return avdevice.InputUnknown, fmt.Errorf("%w: %q", avdevice.ErrUnknownInput, name)
	}
	return code, nil
}

// InputName returns the display name for a code, or "UNKNOWN".
func InputName(code avdevice.InputCode) string {
	if name, ok := inputNames[code]; ok {
		return name
	}
	return "UNKNOWN"
}

// inputParameter encodes an input code into the 16-byte INPT parameter.
func inputParameter(code avdevice.InputCode) string {
	return fmt.Sprintf("%08d%08d", int(code)/100, int(code)%100)
}

// inputFromParameter decodes an INPT parameter. Unrecognised kind and
// index pairs map to the unknown input.
func inputFromParameter(param string) avdevice.InputCode {
	if len(param) != parameterLength {
		return avdevice.InputUnknown
	}
	kind, err := strconv.Atoi(param[:8])
	if err != nil {
		return avdevice.InputUnknown
	}
	index, err := strconv.Atoi(param[8:])
	if err != nil {
		return avdevice.InputUnknown
	}

	code := avdevice.InputCode(kind*100 + index)
	if _, ok := inputNames[code]; !ok {
		return avdevice.InputUnknown
	}
	return code
}

// Remote codes sent through the IRCC function.
const (
	irccMin        = 0
	irccMax        = 97
	irccVolumeUp   = 30
	irccVolumeDown = 31
)

// IRCCCommands maps remote-control key names to their IRCC codes.
var IRCCCommands = map[string]int{
	"POWER_OFF":             0,
	"INPUT":                 1,
	"GGUIDE":                2,
	"EPG":                   3,
	"FAVORITES":             4,
	"DISPLAY":               5,
	"HOME":                  6,
	"OPTIONS":               7,
	"RETURN":                8,
	"UP":                    9,
	"DOWN":                  10,
	"RIGHT":                 11,
	"LEFT":                  12,
	"CONFIRM":               13,
	"RED":                   14,
	"GREEN":                 15,
	"YELLOW":                16,
	"BLUE":                  17,
	"NUM1":                  18,
	"NUM2":                  19,
	"NUM3":                  20,
	"NUM4":                  21,
	"NUM5":                  22,
	"NUM6":                  23,
	"NUM7":                  24,
	"NUM8":                  25,
	"NUM9":                  26,
	"NUM0":                  27,
	"NUM11":                 28,
	"NUM12":                 29,
	"VOLUME_UP":             30,
	"VOLUME_DOWN":           31,
	"MUTE":                  32,
	"CHANNEL_UP":            33,
	"CHANNEL_DOWN":          34,
	"SUBTITLE":              35,
	"CLOSED_CAPTION":        36,
	"ENTER":                 37,
	"DOT":                   38,
	"ANALOG":                39,
	"TELETEXT":              40,
	"EXIT":                  41,
	"ANALOG2":               42,
	"AD":                    43,
	"DIGITAL":               44,
	"ANALOG_":               45,
	"BS":                    46,
	"CS":                    47,
	"BS_CS":                 48,
	"DDATA":                 49,
	"PIC_OFF":               50,
	"TV_RADIO":              51,
	"THEATER":               52,
	"SEN":                   53,
	"INTERNET_WIDGETS":      54,
	"INTERNET_VIDEO":        55,
	"NETFLIX":               56,
	"SCENE_SELECT":          57,
	"MODE3D":                58,
	"IMANUAL":               59,
	"AUDIO":                 60,
	"WIDE":                  61,
	"JUMP":                  62,
	"PAP":                   63,
	"MYEPG":                 64,
	"PROGRAM_DESCRIPTION":   65,
	"WRITE_CHAPTER":         66,
	"TRACK_ID":              67,
	"TEN_KEY":               68,
	"APPLICAST":             69,
	"AC_TVILA":              70,
	"DELETE_VIDEO":          71,
	"PHOTO_FRAME":           72,
	"TV_PAUSE":              73,
	"KEYPAD":                74,
	"MEDIA":                 75,
	"SYNC_MENU":             76,
	"FORWARD":               77,
	"PLAY":                  78,
	"REWIND":                79,
	"PREV":                  80,
	"STOP":                  81,
	"NEXT":                  82,
	"REC":                   83,
	"PAUSE":                 84,
	"EJECT":                 85,
	"FLASH_PLUS":            86,
	"FLASH_MINUS":           87,
	"TOP_MENU":              88,
	"POPUP_MENU":            89,
	"RAKURAKU_START":        90,
	"ONE_TOUCH_TIME_RECORD": 91,
	"ONE_TOUCH_VIEW":        92,
	"ONE_TOUCH_RECORD":      93,
	"ONE_TOUCH_STOP":        94,
	"DUX":                   95,
	"FOOTBALL_MODE":         96,
	"SOCIAL":                97,
}

// IRCCByName resolves a remote key name to its code.
func IRCCByName(name string) (int, error) {
	code, ok := IRCCCommands[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrIRCCOutOfRange, name)
	}
	return code, nil
}
