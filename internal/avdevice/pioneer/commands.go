package pioneer

import (
	"fmt"
	"math"

	"github.com/nerrad567/gray-logic-av/internal/avdevice"
)

// Command strings. Each is written to the device followed by CR.
const (
	cmdQueryPower  = "?P"
	cmdQueryVolume = "?V"
	cmdQueryInput  = "?F"
	cmdQueryMute   = "?M"

	cmdPowerOn  = "PO"
	cmdPowerOff = "PF"

	cmdMuteOn  = "MO"
	cmdMuteOff = "MF"

	cmdVolumeUp   = "VU"
	cmdVolumeDown = "VD"
)

// Response prefixes. Status lines carry the value after the prefix.
const (
	respPower  = "PWR"
	respVolume = "VOL"
	respMute   = "MUT"
	respInput  = "FN"

	respErrCommand   = "E04"
	respErrParameter = "E06"
	respBusy         = "B00"
)

// Volume scale limits.
const (
	// volumeRawMin and volumeRawMax bound the device's raw volume scale.
	volumeRawMin = 0
	volumeRawMax = 185

	// volumeRawZeroDB is the raw value the device treats as 0.0 dB.
	volumeRawZeroDB = 161

	// volumeStepsPerDB is the number of raw steps per decibel.
	volumeStepsPerDB = 2
)

// VolumeDBMin and VolumeDBMax are the device volume limits in dB.
const (
	VolumeDBMin = float64(volumeRawMin-volumeRawZeroDB) / volumeStepsPerDB
	VolumeDBMax = float64(volumeRawMax-volumeRawZeroDB) / volumeStepsPerDB
)

// VolumeFromRaw converts a raw 0-185 device volume to dB.
func VolumeFromRaw(raw int) float64 {
	return float64(raw-volumeRawZeroDB) / volumeStepsPerDB
}

// VolumeToRaw converts a dB volume to the nearest raw device step.
// Returns ErrVolumeOutOfRange for values outside the device scale.
func VolumeToRaw(db float64) (int, error) {
	raw := int(math.Round(db*volumeStepsPerDB)) + volumeRawZeroDB
	if raw < volumeRawMin || raw > volumeRawMax {
		return 0, fmt.Errorf("%w: %.1f dB (valid %.1f to %.1f)",
			ErrVolumeOutOfRange, db, VolumeDBMin, VolumeDBMax)
	}
	return raw, nil
}

// formatVolumeCommand builds the absolute volume command, a zero-padded
// three-digit raw value followed by VL.
func formatVolumeCommand(raw int) string {
	return fmt.Sprintf("%03dVL", raw)
}

// formatInputCommand builds the input select command, a zero-padded
// two-digit code followed by FN.
func formatInputCommand(code avdevice.InputCode) string {
	return fmt.Sprintf("%02dFN", int(code))
}
