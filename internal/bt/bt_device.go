package bt

import (
	"fmt"
	"sync"

	"github.com/forcegage-pvm/braven-extension/internal/go_func_utils"

	"tinygo.org/x/bluetooth"
)

// btCharacteristic wraps a discovered characteristic together with the link
// it was discovered on.
type btCharacteristic struct {
	link *btLink
	uuid string
	char bluetooth.DeviceCharacteristic
}

func (c *btCharacteristic) UUID() string {
	return c.uuid
}

// btLink is one connection attempt made by BTManager.
type btLink struct {
	manager *BTManager
	address string
	addr    bluetooth.Address
	mu      sync.Mutex
	bleMu   sync.Mutex // serializes GATT operations on the device
	device  *bluetooth.Device
	closed  bool
}

var _ Link = (*btLink)(nil)

func newBTLink(manager *BTManager, address string, addr bluetooth.Address) *btLink {
	return &btLink{manager: manager, address: address, addr: addr}
}

func (l *btLink) Address() string {
	return l.address
}

func (l *btLink) Connect() error {
	m := l.manager
	m.logger.Printf("BTManager: Attempting to connect to device: %s", l.address)
	go_func_utils.SafeGoGroup(m.logger, &m.wg, func() {
		device, err := m.adapter.Connect(l.addr, bluetooth.ConnectionParams{})
		if err != nil {
			m.logger.Printf("BTManager: Connection error: %v", err)
			m.forgetLink(l)
			m.emit(LinkStateEvent{Link: l, Connected: false, Err: err})
			return
		}
		if !l.setDevice(device) {
			// closed while the connection was pending
			if err := device.Disconnect(); err != nil {
				m.logger.Printf("BTManager: Error dropping stale connection to %s: %v", l.address, err)
			}
			return
		}
		m.emit(LinkStateEvent{Link: l, Connected: true})
	})
	return nil
}

// setDevice stores the connected device, reporting false when the link was
// closed before the connection completed.
func (l *btLink) setDevice(device bluetooth.Device) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.device = &device
	return true
}

func (l *btLink) getDevice() (*bluetooth.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.device == nil {
		return nil, ErrNotConnected
	}
	return l.device, nil
}

func (l *btLink) characteristic(c Characteristic) (*btCharacteristic, error) {
	bc, ok := c.(*btCharacteristic)
	if !ok || bc.link != l {
		return nil, ErrUnknownCharacteristic
	}
	return bc, nil
}

// DiscoverServices discovers every service and all of their characteristics.
// Discovering services one at a time interrupts services already in use on
// some stacks, so everything is fetched in one pass.
func (l *btLink) DiscoverServices() error {
	device, err := l.getDevice()
	if err != nil {
		return err
	}
	logger := l.manager.logger
	go_func_utils.SafeGoGroup(logger, &l.manager.wg, func() {
		l.bleMu.Lock()
		services, err := l.discover(device)
		l.bleMu.Unlock()
		if err != nil {
			logger.Printf("BTDevice: Discovery failed on %s: %v", l.address, err)
		}
		l.manager.emit(ServicesDiscoveredEvent{Link: l, Services: services, Err: err})
	})
	return nil
}

func (l *btLink) discover(device *bluetooth.Device) ([]Service, error) {
	logger := l.manager.logger
	logger.Printf("BTDevice: Discovering all services for %s", l.address)
	deviceServices, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("error discovering services: %w", err)
	}

	services := make([]Service, 0, len(deviceServices))
	for i := range deviceServices {
		svc := &deviceServices[i]
		svcUUID := svc.UUID().String()
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("could not discover characteristics for service %v: %w", svcUUID, err)
		}
		service := Service{UUID: svcUUID, Characteristics: make([]Characteristic, 0, len(chars))}
		for _, char := range chars {
			service.Characteristics = append(service.Characteristics, &btCharacteristic{
				link: l,
				uuid: char.UUID().String(),
				char: char,
			})
		}
		logger.Printf("BTDevice: Service %s has %d characteristics", svcUUID, len(service.Characteristics))
		services = append(services, service)
	}
	return services, nil
}

func (l *btLink) EnableIndications(c Characteristic) error {
	bc, err := l.characteristic(c)
	if err != nil {
		return err
	}
	if _, err := l.getDevice(); err != nil {
		return err
	}
	logger := l.manager.logger
	go_func_utils.SafeGoGroup(logger, &l.manager.wg, func() {
		l.bleMu.Lock()
		err := bc.char.EnableNotifications(func(buf []byte) {
			value := make([]byte, len(buf))
			copy(value, buf)
			l.manager.emit(CharacteristicChangedEvent{Link: l, Characteristic: bc, Value: value})
		})
		l.bleMu.Unlock()
		if err != nil {
			logger.Printf("BTDevice: EnableNotifications failed for %s: %v", bc.uuid, err)
			err = fmt.Errorf("failed to enable notifications: %w", err)
		}
		l.manager.emit(DescriptorWrittenEvent{Link: l, Characteristic: bc, Err: err})
	})
	return nil
}

func (l *btLink) Write(c Characteristic, data []byte) error {
	bc, err := l.characteristic(c)
	if err != nil {
		return err
	}
	if _, err := l.getDevice(); err != nil {
		return err
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	go_func_utils.SafeGoGroup(l.manager.logger, &l.manager.wg, func() {
		l.bleMu.Lock()
		_, err := bc.char.Write(payload)
		l.bleMu.Unlock()
		if err != nil {
			err = fmt.Errorf("failed to write characteristic: %w", err)
		}
		l.manager.emit(CharacteristicWrittenEvent{Link: l, Characteristic: bc, Err: err})
	})
	return nil
}

// Close drops the connection. It is safe to call more than once and before
// the connection completed.
func (l *btLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	device := l.device
	l.device = nil
	l.mu.Unlock()

	l.manager.forgetLink(l)
	if device == nil {
		return nil
	}
	return device.Disconnect()
}
