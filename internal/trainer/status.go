package trainer

import (
	"encoding/json"

	"github.com/forcegage-pvm/braven-extension/internal/events"
)

type TrainerState int

const (
	Disconnected TrainerState = iota
	Scanning
	Connecting
	Connected
	Controlling
	Error
)

func (s TrainerState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Scanning:
		return "Scanning"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Controlling:
		return "Controlling"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// ScannedDevice is a trainer seen while scanning.
type ScannedDevice struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Signal  int    `json:"signal"`
}

// TrainerStatus is the aggregate published to observers. Values are never
// mutated after publication.
type TrainerStatus struct {
	State            TrainerState
	DeviceName       *string
	TargetPowerWatts *int
	ErrorMessage     *string
	ScannedDevices   []ScannedDevice
}

type fieldOp uint8

const (
	fieldKeep fieldOp = iota
	fieldSet
	fieldClear
)

// Field is an update directive for one status field. The zero value keeps
// the current value.
type Field[T any] struct {
	op    fieldOp
	value T
}

func Keep[T any]() Field[T] {
	return Field[T]{}
}

func Set[T any](v T) Field[T] {
	return Field[T]{op: fieldSet, value: v}
}

func Clear[T any]() Field[T] {
	return Field[T]{op: fieldClear}
}

// StatusUpdate changes any subset of the status fields at once.
type StatusUpdate struct {
	State          Field[TrainerState]
	DeviceName     Field[string]
	TargetPower    Field[int]
	ErrorMessage   Field[string]
	ScannedDevices Field[[]ScannedDevice]
}

func applyOptional[T any](f Field[T], dst **T) {
	switch f.op {
	case fieldSet:
		v := f.value
		*dst = &v
	case fieldClear:
		*dst = nil
	}
}

// Apply returns a copy of s with u applied.
func (s TrainerStatus) Apply(u StatusUpdate) TrainerStatus {
	switch u.State.op {
	case fieldSet:
		s.State = u.State.value
	case fieldClear:
		s.State = Disconnected
	}
	applyOptional(u.DeviceName, &s.DeviceName)
	applyOptional(u.TargetPower, &s.TargetPowerWatts)
	applyOptional(u.ErrorMessage, &s.ErrorMessage)
	switch u.ScannedDevices.op {
	case fieldSet:
		s.ScannedDevices = append([]ScannedDevice(nil), u.ScannedDevices.value...)
	case fieldClear:
		s.ScannedDevices = nil
	}
	return s
}

type statusJSON struct {
	State          string          `json:"state"`
	DeviceName     *string         `json:"device_name"`
	TargetPower    *int            `json:"target_power"`
	ErrorMessage   *string         `json:"error_message"`
	ScannedDevices []ScannedDevice `json:"scanned_devices"`
}

// MarshalJSON renders the snapshot format consumed by the dashboard.
func (s TrainerStatus) MarshalJSON() ([]byte, error) {
	devices := s.ScannedDevices
	if devices == nil {
		devices = []ScannedDevice{}
	}
	return json.Marshal(statusJSON{
		State:          s.State.String(),
		DeviceName:     s.DeviceName,
		TargetPower:    s.TargetPowerWatts,
		ErrorMessage:   s.ErrorMessage,
		ScannedDevices: devices,
	})
}

// StatusPublisher owns the current TrainerStatus and streams every change.
type StatusPublisher struct {
	status *events.Observable[TrainerStatus]
}

func NewStatusPublisher() *StatusPublisher {
	return &StatusPublisher{status: events.NewObservableWithValue(TrainerStatus{})}
}

func (p *StatusPublisher) Update(u StatusUpdate) TrainerStatus {
	return p.status.Update(func(current TrainerStatus) TrainerStatus {
		return current.Apply(u)
	})
}

// Reset returns the status to its defaults.
func (p *StatusPublisher) Reset() {
	p.status.Publish(TrainerStatus{})
}

func (p *StatusPublisher) Current() TrainerStatus {
	s, _ := p.status.Latest()
	return s
}

// Listen registers ch for status changes. The current status is sent
// immediately.
func (p *StatusPublisher) Listen(ch chan<- TrainerStatus) func() {
	return p.status.Listen(ch)
}

// Snapshot serializes the current status as JSON.
func (p *StatusPublisher) Snapshot() string {
	raw, err := json.Marshal(p.Current())
	if err != nil {
		// TrainerStatus only holds plain values
		panic(err)
	}
	return string(raw)
}
