package pioneer

import (
	"fmt"

	"github.com/nerrad567/gray-logic-av/internal/avdevice"
)

// Inputs maps the receiver's front-panel input names to their two-digit
// wire codes. The names match the VSX-1021 display labels.
var Inputs = map[string]avdevice.InputCode{
	"PHONO":              0,
	"CD":                 1,
	"TUNER":              2,
	"CD-R/TAPE":          3,
	"DVD":                4,
	"TV/SAT":             5,
	"VIDEO1":             10,
	"MULTI CH IN":        12,
	"VIDEO2":             14,
	"DVR/BDR":            15,
	"IPOD/USB":           17,
	"XM RADIO":           18,
	"HDMI1":              19,
	"HDMI2":              20,
	"HDMI3":              21,
	"HDMI4":              22,
	"HDMI5":              23,
	"BD":                 25,
	"HOME MEDIA GALLERY": 26,
	"SIRIUS":             27,
	"HDMI CYCLE":         31,
	"ADAPTER":            33,
	"UNKNOWN":            avdevice.InputUnknown,
}

// inputNames is the reverse lookup, code to display name.
var inputNames = func() map[avdevice.InputCode]string {
	m := make(map[avdevice.InputCode]string, len(Inputs))
	for name, code := range Inputs {
		m[code] = name
	}
	return m
}()

// InputByName resolves a display name to its wire code.
func InputByName(name string) (avdevice.InputCode, error) {
	code, ok := Inputs[name]
	if !ok {
		return avdevice.InputUnknown, fmt.Errorf("%w: %q", avdevice.ErrUnknownInput, name)
	}
	return code, nil
}

// InputName resolves a wire code to its display name. Unrecognised codes
// report as UNKNOWN.
func InputName(code avdevice.InputCode) string {
	if name, ok := inputNames[code]; ok {
		return name
	}
	return "UNKNOWN"
}
