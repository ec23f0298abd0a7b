package trainer

import (
	"fmt"
	"time"

	"github.com/forcegage-pvm/braven-extension/internal/bt"
	"github.com/forcegage-pvm/braven-extension/internal/ftms"
)

const DefaultScanTimeout = 15 * time.Second

// StartScan looks for FTMS trainers until StopScan, a connection attempt or
// the scan timeout. Calling it while scanning restarts the scan.
func (c *Controller) StartScan() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	if c.link != nil {
		c.mu.Unlock()
		c.logger.Println("Controller: Ignoring scan request while a trainer is connected")
		return
	}
	restart := c.cancelScanLocked()
	c.mu.Unlock()

	if restart {
		c.logger.Println("Controller: Restarting scan")
		c.stopRadioScan()
	}

	if err := c.radio.Enable(); err != nil {
		c.logger.Printf("Controller: Bluetooth unavailable: %v", err)
		c.mu.Lock()
		if !c.destroyed {
			c.status.Update(StatusUpdate{
				State:        Set(Error),
				ErrorMessage: Set("Bluetooth unavailable: " + err.Error()),
			})
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.destroyed || c.link != nil {
		c.mu.Unlock()
		return
	}
	c.scanGen++
	gen := c.scanGen
	c.scanning = true
	c.scanSeen = make(map[string]struct{})
	c.scanDevices = nil
	c.scanTimer = time.AfterFunc(c.options.ScanTimeout, func() { c.onScanTimeout(gen) })
	c.status.Update(StatusUpdate{
		State:          Set(Scanning),
		ErrorMessage:   Clear[string](),
		ScannedDevices: Clear[[]ScannedDevice](),
	})
	c.mu.Unlock()

	c.logger.Printf("Controller: Scanning for FTMS trainers for %v", c.options.ScanTimeout)
	if err := c.radio.StartScan(ftms.ServiceUUID); err != nil {
		c.logger.Printf("Controller: Scan failed to start: %v", err)
		c.mu.Lock()
		if c.scanGen == gen && c.scanning {
			c.cancelScanLocked()
			c.status.Update(StatusUpdate{
				State:        Set(Error),
				ErrorMessage: Set("scan failed: " + err.Error()),
			})
		}
		c.mu.Unlock()
	}
}

// StopScan is idempotent. The scanned list is kept.
func (c *Controller) StopScan() {
	c.mu.Lock()
	wasScanning := c.cancelScanLocked()
	if wasScanning && c.status.Current().State == Scanning {
		c.status.Update(StatusUpdate{State: Set(Disconnected)})
	}
	c.mu.Unlock()

	if wasScanning {
		c.stopRadioScan()
	}
}

// cancelScanLocked ends the scan session and reports whether one was active.
func (c *Controller) cancelScanLocked() bool {
	if c.scanTimer != nil {
		c.scanTimer.Stop()
		c.scanTimer = nil
	}
	wasScanning := c.scanning
	c.scanning = false
	return wasScanning
}

func (c *Controller) stopRadioScan() {
	if err := c.radio.StopScan(); err != nil {
		c.logger.Printf("Controller: Error stopping scan: %v", err)
	}
}

func (c *Controller) onScanTimeout(gen uint64) {
	c.mu.Lock()
	if c.destroyed || gen != c.scanGen || !c.scanning {
		c.mu.Unlock()
		return
	}
	c.logger.Printf("Controller: Scan timed out with %d trainer(s) found", len(c.scanDevices))
	c.cancelScanLocked()
	if c.status.Current().State == Scanning {
		c.status.Update(StatusUpdate{State: Set(Disconnected)})
	}
	c.mu.Unlock()

	c.stopRadioScan()
}

func (c *Controller) handleScanResult(ev bt.ScanResultEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.scanning {
		return
	}
	if _, seen := c.scanSeen[ev.Address]; seen {
		return
	}
	c.scanSeen[ev.Address] = struct{}{}
	name := ev.Name
	if name == "" {
		name = "Unknown"
	}
	c.scanDevices = append(c.scanDevices, ScannedDevice{Name: name, Address: ev.Address, Signal: ev.RSSI})
	c.logger.Printf("Controller: Found trainer: %s (%s) [RSSI: %d]", name, ev.Address, ev.RSSI)
	c.status.Update(StatusUpdate{ScannedDevices: Set(c.scanDevices)})
}

func (c *Controller) handleScanFailed(ev bt.ScanFailedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.scanning {
		return
	}
	c.logger.Printf("Controller: Scan failed: %v", ev.Err)
	c.cancelScanLocked()
	c.status.Update(StatusUpdate{
		State:        Set(Error),
		ErrorMessage: Set(fmt.Sprintf("scan failed: %v", ev.Err)),
	})
}
