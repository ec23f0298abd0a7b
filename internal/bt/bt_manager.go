package bt

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/forcegage-pvm/braven-extension/internal/go_func_utils"

	"tinygo.org/x/bluetooth"
)

// Verify BTManager implements Radio
var _ Radio = (*BTManager)(nil)

// BTManager implements Radio on a tinygo bluetooth adapter. Blocking adapter
// calls run on their own goroutines and report back through the event handler.
type BTManager struct {
	adapter   *bluetooth.Adapter
	logger    *log.Logger
	mu        sync.RWMutex
	handler   func(Event)
	enabled   bool
	scanning  bool
	scanGen   uint64
	scanDone  chan struct{}
	addresses map[string]bluetooth.Address
	links     map[string]*btLink
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewBTManager(adapter *bluetooth.Adapter, logger *log.Logger) *BTManager {
	if adapter == nil {
		panic("BTManager: adapter cannot be nil")
	}
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BTManager{
		adapter:   adapter,
		logger:    logger,
		addresses: make(map[string]bluetooth.Address),
		links:     make(map[string]*btLink),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (m *BTManager) SetEventHandler(handler func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

func (m *BTManager) emit(ev Event) {
	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()
	if handler == nil {
		return
	}
	select {
	case <-m.ctx.Done():
		return
	default:
	}
	handler(ev)
}

// Enable powers up the adapter once. Later calls are no-ops.
func (m *BTManager) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return nil
	}

	// Link-up is reported by the Connect goroutine; the handler only
	// tracks drops.
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addressStr := device.Address.String()
		if connected {
			m.logger.Printf("BTManager: Device connected: %s", addressStr)
			return
		}
		m.logger.Printf("BTManager: Device disconnected: %s", addressStr)
		m.mu.Lock()
		link, ok := m.links[addressStr]
		if ok {
			delete(m.links, addressStr)
		}
		m.mu.Unlock()
		if ok {
			m.emit(LinkStateEvent{Link: link, Connected: false})
		}
	})

	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	m.enabled = true
	return nil
}

func (m *BTManager) StartScan(serviceUUID string) error {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}

	m.mu.Lock()
	if m.scanning {
		m.mu.Unlock()
		return fmt.Errorf("scan already running")
	}
	m.scanning = true
	m.scanGen++
	gen := m.scanGen
	prevDone := m.scanDone
	done := make(chan struct{})
	m.scanDone = done
	m.mu.Unlock()

	m.logger.Printf("BTManager: Starting scan for service %s", serviceUUID)
	go_func_utils.SafeGoGroup(m.logger, &m.wg, func() {
		defer close(done)
		defer m.logger.Printf("BTManager: exiting scan loop")

		// the adapter runs one scan at a time
		if prevDone != nil {
			<-prevDone
		}
		if !m.isCurrentScan(gen) {
			return
		}

		err := m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !result.HasServiceUUID(uuid) {
				return
			}
			addressStr := result.Address.String()
			m.mu.Lock()
			current := m.scanning && m.scanGen == gen
			if current {
				m.addresses[addressStr] = result.Address
			}
			m.mu.Unlock()
			if !current {
				return
			}
			m.emit(ScanResultEvent{
				Name:    result.LocalName(),
				Address: addressStr,
				RSSI:    int(result.RSSI),
			})
		})

		m.mu.Lock()
		stillCurrent := m.scanGen == gen && m.scanning
		if stillCurrent {
			m.scanning = false
		}
		m.mu.Unlock()
		if err != nil && stillCurrent {
			m.logger.Printf("BTManager: Scan error: %v", err)
			m.emit(ScanFailedEvent{Err: err})
		}
	})
	return nil
}

func (m *BTManager) isCurrentScan(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning && m.scanGen == gen
}

func (m *BTManager) StopScan() error {
	m.mu.Lock()
	if !m.scanning {
		m.mu.Unlock()
		return nil
	}
	m.scanning = false
	m.mu.Unlock()
	m.logger.Println("BTManager: Stopping scan")
	return m.adapter.StopScan()
}

// ParseAddress accepts addresses seen by the current adapter's scans as they
// were reported, and otherwise whatever the platform's bluetooth.Address
// parses back to the same text: a MAC on Linux, a UUID on macOS.
func (m *BTManager) ParseAddress(address string) (string, error) {
	id, err := CleanAddress(address)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	for known := range m.addresses {
		if strings.EqualFold(known, id) {
			m.mu.RUnlock()
			return known, nil
		}
	}
	m.mu.RUnlock()

	var addr bluetooth.Address
	addr.Set(id)
	if !strings.EqualFold(addr.String(), id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return addr.String(), nil
}

// NewLink resolves the address against the scan results, so random
// addresses keep their type, and falls back to a public address.
func (m *BTManager) NewLink(address string) (Link, error) {
	canonical, err := m.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.addresses[canonical]
	if !ok {
		addr.Set(canonical)
	}
	link := newBTLink(m, canonical, addr)
	m.links[canonical] = link
	return link, nil
}

func (m *BTManager) forgetLink(link *btLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[link.address] == link {
		delete(m.links, link.address)
	}
}

// Shutdown closes open links, stops scanning and waits for the adapter
// goroutines that can still finish.
func (m *BTManager) Shutdown() {
	m.logger.Println("BTManager: Shutting down")
	m.mu.RLock()
	links := make([]*btLink, 0, len(m.links))
	for _, link := range m.links {
		links = append(links, link)
	}
	m.mu.RUnlock()
	for _, link := range links {
		if err := link.Close(); err != nil {
			m.logger.Printf("BTManager: Error disconnecting from %v: %v", link.address, err)
		}
	}
	if err := m.StopScan(); err != nil {
		m.logger.Printf("BTManager: Error stopping scan: %v", err)
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Println("BTManager: Shutdown complete")
}
