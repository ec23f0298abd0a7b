package bt

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrNotConnected          = errors.New("bt: link not connected")
	ErrUnknownCharacteristic = errors.New("bt: characteristic does not belong to this link")
	ErrInvalidAddress        = errors.New("bt: invalid device address")
)

// Radio is the BLE hardware seen by the trainer controller. Every call returns
// immediately; outcomes are delivered to the event handler, one at a time per
// link.
type Radio interface {
	Enable() error
	SetEventHandler(handler func(Event))
	StartScan(serviceUUID string) error
	StopScan() error
	// ParseAddress validates a device identifier the way this radio reports
	// them and returns its canonical form. Identifiers are opaque: a MAC
	// address on BlueZ, a UUID on CoreBluetooth.
	ParseAddress(address string) (string, error)
	// NewLink returns a fresh handle for one connection attempt without
	// touching the hardware.
	NewLink(address string) (Link, error)
}

// Link is one GATT connection attempt.
type Link interface {
	Address() string
	// Connect starts the attempt. Link-up or failure is reported with a
	// LinkStateEvent for this handle.
	Connect() error
	DiscoverServices() error
	// EnableIndications writes the client configuration descriptor of c and
	// routes its values to CharacteristicChangedEvent.
	EnableIndications(c Characteristic) error
	Write(c Characteristic, data []byte) error
	Close() error
}

// Characteristic is an opaque handle returned by service discovery.
type Characteristic interface {
	UUID() string
}

type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// FindCharacteristic returns the characteristic of s with the given UUID.
func (s Service) FindCharacteristic(uuid string) (Characteristic, bool) {
	for _, c := range s.Characteristics {
		if strings.EqualFold(c.UUID(), uuid) {
			return c, true
		}
	}
	return nil, false
}

// FindService returns the service with the given UUID.
func FindService(services []Service, uuid string) (Service, bool) {
	for _, s := range services {
		if strings.EqualFold(s.UUID, uuid) {
			return s, true
		}
	}
	return Service{}, false
}

type Event interface {
	isEvent()
}

type ScanResultEvent struct {
	Name    string
	Address string
	RSSI    int
}

type ScanFailedEvent struct {
	Err error
}

// LinkStateEvent reports link-up, link-down and failed link attempts.
// Status carries the hardware reason code of a link-down when the stack
// provides one.
type LinkStateEvent struct {
	Link      Link
	Connected bool
	Status    int
	Err       error
}

type ServicesDiscoveredEvent struct {
	Link     Link
	Services []Service
	Err      error
}

type DescriptorWrittenEvent struct {
	Link           Link
	Characteristic Characteristic
	Err            error
}

type CharacteristicWrittenEvent struct {
	Link           Link
	Characteristic Characteristic
	Err            error
}

type CharacteristicChangedEvent struct {
	Link           Link
	Characteristic Characteristic
	Value          []byte
}

func (ScanResultEvent) isEvent()            {}
func (ScanFailedEvent) isEvent()            {}
func (LinkStateEvent) isEvent()             {}
func (ServicesDiscoveredEvent) isEvent()    {}
func (DescriptorWrittenEvent) isEvent()     {}
func (CharacteristicWrittenEvent) isEvent() {}
func (CharacteristicChangedEvent) isEvent() {}

// CleanAddress trims an opaque device identifier and returns it upper-cased.
// Empty identifiers and identifiers with inner whitespace are rejected.
func CleanAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" || strings.IndexFunc(trimmed, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return strings.ToUpper(trimmed), nil
}
