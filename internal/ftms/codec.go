package ftms

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrShortFrame  = errors.New("ftms: frame too short")
	ErrNotResponse = errors.New("ftms: not a control point response")
)

// ControlPointResponse is an indication received on the control point:
// [0x80, request op code, result code, ...]
type ControlPointResponse struct {
	RequestOpCode byte
	ResultCode    byte
}

func (r ControlPointResponse) Success() bool {
	return r.ResultCode == ResultSuccess
}

func (r ControlPointResponse) String() string {
	return fmt.Sprintf("%s -> %s", OpCodeName(r.RequestOpCode), ResultName(r.ResultCode))
}

// MachineStatus is a Fitness Machine Status notification.
type MachineStatus struct {
	OpCode byte
	// Only set for StatusTargetPowerChanged
	TargetPowerWatts *int
	Parameter        []byte
}

func EncodeRequestControl() []byte {
	return []byte{OpCodeRequestControl}
}

func EncodeReset() []byte {
	return []byte{OpCodeReset}
}

func EncodeStartOrResume() []byte {
	return []byte{OpCodeStartOrResume}
}

func EncodeStopOrPause(pause bool) []byte {
	if pause {
		return []byte{OpCodeStopOrPause, StopOrPausePause}
	}
	return []byte{OpCodeStopOrPause, StopOrPauseStop}
}

// ClampPower limits a target power to what the control point accepts.
func ClampPower(watts int) int {
	return clampInt(watts, MinTargetPowerWatts, MaxTargetPowerWatts)
}

// EncodeSetTargetPower builds [0x05, lo, hi] with the watts clamped to 0..2000.
func EncodeSetTargetPower(watts int) []byte {
	buf := make([]byte, 3)
	buf[0] = OpCodeSetTargetPower
	binary.LittleEndian.PutUint16(buf[1:], uint16(ClampPower(watts)))
	return buf
}

// EncodeSetTargetResistance builds [0x04, lo, hi] from a resistance level in
// whole units. The wire value is in tenths, clamped to 0..1000.
func EncodeSetTargetResistance(level float64) []byte {
	tenths := scaleClamp(level, 10, 0, MaxResistanceTenths)
	buf := make([]byte, 3)
	buf[0] = OpCodeSetTargetResistance
	binary.LittleEndian.PutUint16(buf[1:], uint16(tenths))
	return buf
}

// EncodeSetIndoorBikeSimulation builds the 7 byte simulation parameters frame.
// windSpeed is m/s, grade is percent, crr is unitless and cw is kg/m.
func EncodeSetIndoorBikeSimulation(windSpeed, grade, crr, cw float64) []byte {
	buf := make([]byte, 7)
	buf[0] = OpCodeSetIndoorBikeSimulation
	wind := scaleClamp(windSpeed, 1000, math.MinInt16, math.MaxInt16)
	binary.LittleEndian.PutUint16(buf[1:], uint16(int16(wind)))
	g := scaleClamp(grade, 100, math.MinInt16, math.MaxInt16)
	binary.LittleEndian.PutUint16(buf[3:], uint16(int16(g)))
	buf[5] = byte(scaleClamp(crr, 10000, 0, math.MaxUint8))
	buf[6] = byte(scaleClamp(cw, 100, 0, math.MaxUint8))
	return buf
}

// DecodeControlPointResponse parses a control point indication. Frames that
// are not responses return ErrNotResponse and are expected to be ignored.
func DecodeControlPointResponse(buf []byte) (ControlPointResponse, error) {
	if len(buf) < 3 {
		return ControlPointResponse{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(buf))
	}
	if buf[0] != OpCodeResponseCode {
		return ControlPointResponse{}, fmt.Errorf("%w: op code 0x%02X", ErrNotResponse, buf[0])
	}
	return ControlPointResponse{RequestOpCode: buf[1], ResultCode: buf[2]}, nil
}

func DecodeMachineStatus(buf []byte) (MachineStatus, error) {
	if len(buf) < 1 {
		return MachineStatus{}, fmt.Errorf("%w: empty status", ErrShortFrame)
	}
	status := MachineStatus{OpCode: buf[0], Parameter: append([]byte(nil), buf[1:]...)}
	if status.OpCode == StatusTargetPowerChanged {
		if len(buf) < 3 {
			return MachineStatus{}, fmt.Errorf("%w: target power status has %d bytes", ErrShortFrame, len(buf))
		}
		watts := int(int16(binary.LittleEndian.Uint16(buf[1:3])))
		status.TargetPowerWatts = &watts
	}
	return status, nil
}

func OpCodeName(op byte) string {
	switch op {
	case OpCodeRequestControl:
		return "Request Control"
	case OpCodeReset:
		return "Reset"
	case OpCodeSetTargetSpeed:
		return "Set Target Speed"
	case OpCodeSetTargetInclination:
		return "Set Target Inclination"
	case OpCodeSetTargetResistance:
		return "Set Target Resistance"
	case OpCodeSetTargetPower:
		return "Set Target Power"
	case OpCodeSetTargetHeartRate:
		return "Set Target Heart Rate"
	case OpCodeStartOrResume:
		return "Start/Resume"
	case OpCodeStopOrPause:
		return "Stop/Pause"
	case OpCodeSetIndoorBikeSimulation:
		return "Set Indoor Bike Simulation"
	case OpCodeResponseCode:
		return "Response"
	default:
		return fmt.Sprintf("OpCode 0x%02X", op)
	}
}

func ResultName(result byte) string {
	switch result {
	case ResultSuccess:
		return "Success"
	case ResultOpCodeNotSupported:
		return "Op Code Not Supported"
	case ResultInvalidParameter:
		return "Invalid Parameter"
	case ResultOperationFailed:
		return "Operation Failed"
	case ResultControlNotPermitted:
		return "Control Not Permitted"
	default:
		return fmt.Sprintf("Result 0x%02X", result)
	}
}

func StatusName(op byte) string {
	switch op {
	case StatusReset:
		return "Reset"
	case StatusStoppedOrPausedByUser:
		return "Stopped/Paused By User"
	case StatusStoppedBySafetyKey:
		return "Stopped By Safety Key"
	case StatusStartedOrResumedByUser:
		return "Started/Resumed By User"
	case StatusTargetResistanceChanged:
		return "Target Resistance Changed"
	case StatusTargetPowerChanged:
		return "Target Power Changed"
	case StatusIndoorBikeSimulationChanged:
		return "Indoor Bike Simulation Changed"
	case StatusControlPermissionLost:
		return "Control Permission Lost"
	default:
		return fmt.Sprintf("Status 0x%02X", op)
	}
}

// Describe renders a control point frame for logs, e.g.
// "Set Target Power 275W" or "Response: Request Control -> Success".
func Describe(payload []byte) string {
	if len(payload) == 0 {
		return "empty"
	}
	op := payload[0]
	args := payload[1:]
	switch op {
	case OpCodeSetTargetPower:
		if len(args) >= 2 {
			return fmt.Sprintf("%s %dW", OpCodeName(op), int16(binary.LittleEndian.Uint16(args)))
		}
	case OpCodeSetTargetResistance:
		if len(args) >= 2 {
			return fmt.Sprintf("%s %.1f", OpCodeName(op), float64(int16(binary.LittleEndian.Uint16(args)))/10)
		}
	case OpCodeSetIndoorBikeSimulation:
		if len(args) >= 6 {
			wind := float64(int16(binary.LittleEndian.Uint16(args[0:2]))) / 1000
			grade := float64(int16(binary.LittleEndian.Uint16(args[2:4]))) / 100
			return fmt.Sprintf("%s wind=%.3fm/s grade=%.2f%% crr=%.4f cw=%.2f",
				OpCodeName(op), wind, grade, float64(args[4])/10000, float64(args[5])/100)
		}
	case OpCodeStopOrPause:
		if len(args) >= 1 && args[0] == StopOrPausePause {
			return "Pause"
		}
		return "Stop"
	case OpCodeResponseCode:
		if resp, err := DecodeControlPointResponse(payload); err == nil {
			return "Response: " + resp.String()
		}
	}
	if len(args) == 0 {
		return OpCodeName(op)
	}
	return fmt.Sprintf("%s [% X]", OpCodeName(op), args)
}

// NormalizeUUID lower-cases a UUID string so it can be compared with the
// constants above.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.TrimSpace(uuid))
}

// scaleClamp converts v to fixed point with the given resolution, clamped to
// lo..hi before the integer conversion. NaN encodes as 0.
func scaleClamp(v, scale float64, lo, hi int) int {
	if math.IsNaN(v) {
		return clampInt(0, lo, hi)
	}
	return int(math.Round(math.Max(float64(lo), math.Min(float64(hi), v*scale))))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
