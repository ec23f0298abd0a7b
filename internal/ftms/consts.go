package ftms

// Fitness Machine Service UUIDs, in the lower-case 128-bit form the bluetooth
// stack reports them in.
const (
	ServiceUUID            = "00001826-0000-1000-8000-00805f9b34fb"
	CharUUIDControlPoint   = "00002ad9-0000-1000-8000-00805f9b34fb"
	CharUUIDMachineStatus  = "00002ada-0000-1000-8000-00805f9b34fb"
	CharUUIDIndoorBikeData = "00002ad2-0000-1000-8000-00805f9b34fb"
)

// Control Point op codes (Fitness Machine Service 1.0)
// See: https://www.bluetooth.com/specifications/specs/fitness-machine-service-1-0/
const (
	OpCodeRequestControl          byte = 0x00
	OpCodeReset                   byte = 0x01
	OpCodeSetTargetSpeed          byte = 0x02
	OpCodeSetTargetInclination    byte = 0x03
	OpCodeSetTargetResistance     byte = 0x04
	OpCodeSetTargetPower          byte = 0x05
	OpCodeSetTargetHeartRate      byte = 0x06
	OpCodeStartOrResume           byte = 0x07
	OpCodeStopOrPause             byte = 0x08
	OpCodeSetIndoorBikeSimulation byte = 0x11
	OpCodeResponseCode            byte = 0x80
)

// Control Point result codes
const (
	ResultSuccess             byte = 0x01
	ResultOpCodeNotSupported  byte = 0x02
	ResultInvalidParameter    byte = 0x03
	ResultOperationFailed     byte = 0x04
	ResultControlNotPermitted byte = 0x05
)

// Parameters of the Stop or Pause op code
const (
	StopOrPauseStop  byte = 0x01
	StopOrPausePause byte = 0x02
)

// Fitness Machine Status op codes
const (
	StatusReset                       byte = 0x01
	StatusStoppedOrPausedByUser       byte = 0x02
	StatusStoppedBySafetyKey          byte = 0x03
	StatusStartedOrResumedByUser      byte = 0x04
	StatusTargetResistanceChanged     byte = 0x07
	StatusTargetPowerChanged          byte = 0x08
	StatusIndoorBikeSimulationChanged byte = 0x12
	StatusControlPermissionLost       byte = 0xFF
)

// Target limits
const (
	MinTargetPowerWatts = 0
	MaxTargetPowerWatts = 2000

	// resistance is sent in 0.1 units
	MaxResistanceTenths = 1000
)
