package trainer

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/forcegage-pvm/braven-extension/internal/bt"
	"github.com/forcegage-pvm/braven-extension/internal/ftms"
)

type Options struct {
	// ScanTimeout stops a scan that has not led to a connection attempt.
	ScanTimeout time.Duration
	// StartOnControl sends Start/Resume once control is granted. Some
	// trainers ignore targets until started.
	StartOnControl bool
}

func DefaultOptions() Options {
	return Options{ScanTimeout: DefaultScanTimeout, StartOnControl: true}
}

// SimulationParams are the indoor bike simulation inputs.
type SimulationParams struct {
	WindSpeed float64 // m/s
	Grade     float64 // percent
	Crr       float64 // rolling resistance coefficient
	Cw        float64 // wind resistance coefficient, kg/m
}

func DefaultSimulationParams() SimulationParams {
	return SimulationParams{Crr: 0.004, Cw: 0.51}
}

// Controller drives one FTMS trainer: scanning, the connection lifecycle,
// acquiring control and sending targets. Public methods never block on the
// radio; outcomes are reported through the status stream.
type Controller struct {
	radio   bt.Radio
	logger  *log.Logger
	options Options
	status  *StatusPublisher
	queue   *WriteQueue

	mu        sync.Mutex
	destroyed bool

	scanning    bool
	scanGen     uint64
	scanTimer   *time.Timer
	scanSeen    map[string]struct{}
	scanDevices []ScannedDevice

	connGen       uint64
	link          bt.Link
	controlPoint  bt.Characteristic
	machineStatus bt.Characteristic
}

func NewController(radio bt.Radio, logger *log.Logger, options Options) *Controller {
	if radio == nil {
		panic("Controller: radio cannot be nil")
	}
	if logger == nil {
		panic("Controller: logger cannot be nil")
	}
	if options.ScanTimeout <= 0 {
		options.ScanTimeout = DefaultScanTimeout
	}
	c := &Controller{
		radio:    radio,
		logger:   logger,
		options:  options,
		status:   NewStatusPublisher(),
		scanSeen: make(map[string]struct{}),
	}
	c.queue = newWriteQueue(c.dispatch, logger)
	radio.SetEventHandler(c.HandleEvent)
	return c
}

// Status returns the current status.
func (c *Controller) Status() TrainerStatus {
	return c.status.Current()
}

// ListenToStatus registers a channel to receive status changes
// Returns a deregistration function that can be called to remove the listener
func (c *Controller) ListenToStatus(ch chan<- TrainerStatus) func() {
	return c.status.Listen(ch)
}

// StatusSnapshot returns the current status as JSON.
func (c *Controller) StatusSnapshot() string {
	return c.status.Snapshot()
}

// Connect stops any scan, drops any previous link and connects to address.
func (c *Controller) Connect(address string) {
	canonical, err := c.radio.ParseAddress(address)

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	wasScanning := c.cancelScanLocked()
	prev := c.detachLinkLocked()
	c.connGen++
	gen := c.connGen
	if err != nil {
		c.logger.Printf("Controller: %v", err)
		c.status.Update(StatusUpdate{
			State:        Set(Error),
			DeviceName:   Clear[string](),
			TargetPower:  Clear[int](),
			ErrorMessage: Set(fmt.Sprintf("invalid device address %q", address)),
		})
	}
	c.mu.Unlock()

	if wasScanning {
		c.stopRadioScan()
	}
	c.closeLink(prev)
	if err != nil {
		return
	}

	if err := c.radio.Enable(); err != nil {
		c.logger.Printf("Controller: Bluetooth unavailable: %v", err)
		c.mu.Lock()
		if !c.destroyed && gen == c.connGen {
			c.status.Update(StatusUpdate{
				State:        Set(Error),
				DeviceName:   Clear[string](),
				TargetPower:  Clear[int](),
				ErrorMessage: Set("Bluetooth unavailable: " + err.Error()),
			})
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.destroyed || gen != c.connGen {
		c.mu.Unlock()
		return
	}
	link, err := c.radio.NewLink(canonical)
	if err != nil {
		c.logger.Printf("Controller: Cannot create link to %s: %v", canonical, err)
		c.status.Update(StatusUpdate{
			State:        Set(Error),
			DeviceName:   Clear[string](),
			TargetPower:  Clear[int](),
			ErrorMessage: Set("connection failed: " + err.Error()),
		})
		c.mu.Unlock()
		return
	}
	c.link = link
	c.status.Update(StatusUpdate{
		State:        Set(Connecting),
		DeviceName:   Clear[string](),
		TargetPower:  Clear[int](),
		ErrorMessage: Clear[string](),
	})
	c.mu.Unlock()

	c.logger.Printf("Controller: Connecting to %s", canonical)
	if err := link.Connect(); err != nil {
		c.fail(link, "connection failed: "+err.Error())
	}
}

// Disconnect stops scanning and drops the link, from any state.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	wasScanning := c.cancelScanLocked()
	c.connGen++
	link := c.detachLinkLocked()
	c.status.Update(StatusUpdate{
		State:        Set(Disconnected),
		DeviceName:   Clear[string](),
		TargetPower:  Clear[int](),
		ErrorMessage: Clear[string](),
	})
	c.mu.Unlock()

	if wasScanning {
		c.stopRadioScan()
	}
	if link != nil {
		c.logger.Printf("Controller: Disconnecting from %s", link.Address())
	}
	c.closeLink(link)
}

// Destroy releases the radio and resets the status. Every later call and
// hardware event is ignored.
func (c *Controller) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	wasScanning := c.cancelScanLocked()
	link := c.detachLinkLocked()
	c.status.Reset()
	c.mu.Unlock()

	c.logger.Println("Controller: Destroyed")
	if wasScanning {
		c.stopRadioScan()
	}
	c.closeLink(link)
}

// detachLinkLocked forgets the current link and its queue. The caller
// closes the returned link after releasing the lock.
func (c *Controller) detachLinkLocked() bt.Link {
	link := c.link
	c.link = nil
	c.controlPoint = nil
	c.machineStatus = nil
	c.queue.Reset()
	return link
}

func (c *Controller) closeLink(link bt.Link) {
	if link == nil {
		return
	}
	if err := link.Close(); err != nil {
		c.logger.Printf("Controller: Error closing link to %s: %v", link.Address(), err)
	}
}

// fail reports a connection-level error and force-disconnects.
func (c *Controller) fail(link bt.Link, message string) {
	c.mu.Lock()
	if c.destroyed || link != c.link {
		c.mu.Unlock()
		return
	}
	c.logger.Printf("Controller: %s", message)
	c.connGen++
	c.detachLinkLocked()
	c.status.Update(StatusUpdate{
		State:        Set(Error),
		DeviceName:   Clear[string](),
		TargetPower:  Clear[int](),
		ErrorMessage: Set(message),
	})
	c.mu.Unlock()
	c.closeLink(link)
}

// HandleEvent is the radio event handler.
func (c *Controller) HandleEvent(ev bt.Event) {
	switch e := ev.(type) {
	case bt.ScanResultEvent:
		c.handleScanResult(e)
	case bt.ScanFailedEvent:
		c.handleScanFailed(e)
	case bt.LinkStateEvent:
		c.handleLinkState(e)
	case bt.ServicesDiscoveredEvent:
		c.handleServicesDiscovered(e)
	case bt.DescriptorWrittenEvent:
		c.handleDescriptorWritten(e)
	case bt.CharacteristicWrittenEvent:
		c.handleCharacteristicWritten(e)
	case bt.CharacteristicChangedEvent:
		c.handleCharacteristicChanged(e)
	default:
		c.logger.Printf("Controller: Ignoring unknown event %T", ev)
	}
}

// isCurrent reports whether link is the live link. Events for any other
// link are stale.
func (c *Controller) isCurrent(link bt.Link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.destroyed && link != nil && link == c.link
}

func (c *Controller) handleLinkState(ev bt.LinkStateEvent) {
	c.mu.Lock()
	if c.destroyed || ev.Link == nil || ev.Link != c.link {
		c.mu.Unlock()
		return
	}

	if !ev.Connected {
		c.connGen++
		c.detachLinkLocked()
		update := StatusUpdate{
			State:        Set(Disconnected),
			DeviceName:   Clear[string](),
			TargetPower:  Clear[int](),
			ErrorMessage: Clear[string](),
		}
		switch {
		case ev.Status != 0:
			update.ErrorMessage = Set(fmt.Sprintf("link lost (status %d)", ev.Status))
		case ev.Err != nil:
			update.ErrorMessage = Set("connection failed: " + ev.Err.Error())
		}
		c.logger.Printf("Controller: Link to %s down (status %d, err %v)", ev.Link.Address(), ev.Status, ev.Err)
		c.status.Update(update)
		c.mu.Unlock()
		c.closeLink(ev.Link)
		return
	}

	name := ev.Link.Address()
	for _, d := range c.scanDevices {
		if strings.EqualFold(d.Address, name) {
			name = d.Name
			break
		}
	}
	c.status.Update(StatusUpdate{
		State:        Set(Connected),
		DeviceName:   Set(name),
		ErrorMessage: Clear[string](),
	})
	c.mu.Unlock()

	c.logger.Printf("Controller: Connected to %s, discovering services", ev.Link.Address())
	if err := ev.Link.DiscoverServices(); err != nil {
		c.fail(ev.Link, "service discovery failed: "+err.Error())
	}
}

func (c *Controller) handleServicesDiscovered(ev bt.ServicesDiscoveredEvent) {
	if !c.isCurrent(ev.Link) {
		return
	}
	if ev.Err != nil {
		c.fail(ev.Link, "service discovery failed: "+ev.Err.Error())
		return
	}
	service, ok := bt.FindService(ev.Services, ftms.ServiceUUID)
	if !ok {
		c.fail(ev.Link, "FTMS service not found")
		return
	}
	controlPoint, ok := service.FindCharacteristic(ftms.CharUUIDControlPoint)
	if !ok {
		c.fail(ev.Link, "FTMS control point characteristic not found")
		return
	}
	machineStatus, _ := service.FindCharacteristic(ftms.CharUUIDMachineStatus)

	c.mu.Lock()
	if c.destroyed || ev.Link != c.link {
		c.mu.Unlock()
		return
	}
	c.controlPoint = controlPoint
	c.machineStatus = machineStatus
	c.mu.Unlock()

	c.logger.Println("Controller: FTMS control point found, enabling indications")
	c.queue.Enqueue(pendingWrite{kind: writeIndicationEnable, role: roleControlPoint})
}

func (c *Controller) handleDescriptorWritten(ev bt.DescriptorWrittenEvent) {
	c.mu.Lock()
	if c.destroyed || ev.Link == nil || ev.Link != c.link {
		c.mu.Unlock()
		return
	}
	isControlPoint := ev.Characteristic == c.controlPoint
	hasMachineStatus := c.machineStatus != nil
	c.mu.Unlock()

	if isControlPoint {
		if ev.Err != nil {
			c.fail(ev.Link, "failed to enable control point indications: "+ev.Err.Error())
			return
		}
		c.logger.Println("Controller: Control point indications enabled, requesting control")
		c.queue.Enqueue(pendingWrite{kind: writeValue, role: roleControlPoint, payload: ftms.EncodeRequestControl()})
		if hasMachineStatus {
			c.queue.Enqueue(pendingWrite{kind: writeIndicationEnable, role: roleMachineStatus})
		}
	} else if ev.Err != nil {
		c.logger.Printf("Controller: Could not subscribe to machine status: %v", ev.Err)
	}
	c.queue.Complete()
}

func (c *Controller) handleCharacteristicWritten(ev bt.CharacteristicWrittenEvent) {
	if !c.isCurrent(ev.Link) {
		return
	}
	if ev.Err != nil {
		c.logger.Printf("Controller: Write to %s failed: %v", ev.Characteristic.UUID(), ev.Err)
	}
	c.queue.Complete()
}

func (c *Controller) handleCharacteristicChanged(ev bt.CharacteristicChangedEvent) {
	c.mu.Lock()
	if c.destroyed || ev.Link == nil || ev.Link != c.link {
		c.mu.Unlock()
		return
	}
	isControlPoint := ev.Characteristic == c.controlPoint
	isMachineStatus := c.machineStatus != nil && ev.Characteristic == c.machineStatus
	c.mu.Unlock()

	switch {
	case isControlPoint:
		c.handleControlPointResponse(ev.Link, ev.Value)
	case isMachineStatus:
		c.handleMachineStatus(ev.Link, ev.Value)
	}
}

func (c *Controller) handleControlPointResponse(link bt.Link, value []byte) {
	resp, err := ftms.DecodeControlPointResponse(value)
	if err != nil {
		c.logger.Printf("Controller: Ignoring control point value % X: %v", value, err)
		return
	}
	c.logger.Printf("Controller: FTMS Control Point: %s", resp)

	switch resp.ResultCode {
	case ftms.ResultSuccess:
		if resp.RequestOpCode != ftms.OpCodeRequestControl {
			return
		}
		c.mu.Lock()
		if c.destroyed || link != c.link {
			c.mu.Unlock()
			return
		}
		c.status.Update(StatusUpdate{State: Set(Controlling), ErrorMessage: Clear[string]()})
		c.mu.Unlock()
		c.logger.Println("Controller: Trainer control acquired")
		if c.options.StartOnControl {
			c.queue.Enqueue(pendingWrite{kind: writeValue, role: roleControlPoint, payload: ftms.EncodeStartOrResume()})
		}
	case ftms.ResultControlNotPermitted:
		c.loseControl(link, "control not permitted: another device has control")
	default:
		c.logger.Printf("Controller: Trainer rejected %s: %s", ftms.OpCodeName(resp.RequestOpCode), ftms.ResultName(resp.ResultCode))
	}
}

func (c *Controller) handleMachineStatus(link bt.Link, value []byte) {
	status, err := ftms.DecodeMachineStatus(value)
	if err != nil {
		c.logger.Printf("Controller: Ignoring machine status % X: %v", value, err)
		return
	}
	c.logger.Printf("Controller: Machine status: %s", ftms.StatusName(status.OpCode))
	if status.OpCode == ftms.StatusControlPermissionLost {
		c.loseControl(link, "control permission lost")
	}
}

// loseControl surfaces an arbitration loss. The link stays open so control
// can be requested again.
func (c *Controller) loseControl(link bt.Link, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || link != c.link {
		return
	}
	c.logger.Printf("Controller: %s", message)
	c.status.Update(StatusUpdate{
		State:        Set(Error),
		TargetPower:  Clear[int](),
		ErrorMessage: Set(message),
	})
}

// dispatch sends a queued entry to the characteristic that is current now.
func (c *Controller) dispatch(w pendingWrite) error {
	c.mu.Lock()
	link := c.link
	var target bt.Characteristic
	switch w.role {
	case roleControlPoint:
		target = c.controlPoint
	case roleMachineStatus:
		target = c.machineStatus
	}
	destroyed := c.destroyed
	c.mu.Unlock()

	if destroyed || link == nil || target == nil {
		return errNoTarget
	}
	if w.kind == writeIndicationEnable {
		return link.EnableIndications(target)
	}
	c.logger.Printf("Controller: Sending %s", ftms.Describe(w.payload))
	return link.Write(target, w.payload)
}

// sendCommand queues a control point command. Commands are only accepted
// while the trainer is under our control.
func (c *Controller) sendCommand(payload []byte, update StatusUpdate) bool {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return false
	}
	if state := c.status.Current().State; state != Controlling {
		c.mu.Unlock()
		c.logger.Printf("Controller: Ignoring %s in state %s", ftms.Describe(payload), state)
		return false
	}
	// status and queue change together so the last frame sent always
	// matches the published target
	c.status.Update(update)
	c.queue.push(pendingWrite{kind: writeValue, role: roleControlPoint, payload: payload})
	c.mu.Unlock()

	c.queue.drain()
	return true
}

// SetTargetPower sets the ERG target. Watts are clamped to 0..2000 and the
// target shows in the status as soon as it is queued.
func (c *Controller) SetTargetPower(watts int) {
	clamped := ftms.ClampPower(watts)
	c.sendCommand(ftms.EncodeSetTargetPower(clamped), StatusUpdate{TargetPower: Set(clamped)})
}

func (c *Controller) SetResistance(level float64) {
	c.sendCommand(ftms.EncodeSetTargetResistance(level), StatusUpdate{})
}

func (c *Controller) SetSimulation(p SimulationParams) {
	c.sendCommand(ftms.EncodeSetIndoorBikeSimulation(p.WindSpeed, p.Grade, p.Crr, p.Cw), StatusUpdate{})
}

func (c *Controller) Reset() {
	c.sendCommand(ftms.EncodeReset(), StatusUpdate{})
}

func (c *Controller) Pause() {
	c.sendCommand(ftms.EncodeStopOrPause(true), StatusUpdate{})
}

func (c *Controller) Resume() {
	c.sendCommand(ftms.EncodeStartOrResume(), StatusUpdate{})
}

// RequestControl asks for control again, e.g. after another app took it.
func (c *Controller) RequestControl() {
	c.mu.Lock()
	ready := !c.destroyed && c.link != nil && c.controlPoint != nil
	c.mu.Unlock()
	if !ready {
		c.logger.Println("Controller: No control point to request control on")
		return
	}
	c.queue.Enqueue(pendingWrite{kind: writeValue, role: roleControlPoint, payload: ftms.EncodeRequestControl()})
}
