package bt

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/forcegage-pvm/braven-extension/internal/ftms"
	"github.com/forcegage-pvm/braven-extension/internal/go_func_utils"
)

// MockTrainer describes one simulated FTMS trainer.
type MockTrainer struct {
	Address string
	Name    string
	RSSI    int
	// DenyControl answers Request Control with Control Not Permitted.
	DenyControl bool
	// OmitControlPoint advertises FTMS but discovery finds no control point.
	OmitControlPoint bool
}

type MockRadioConfig struct {
	Trainers []MockTrainer
	// Latency between an operation and its completion event.
	Latency time.Duration
	// ReadvertiseInterval repeats scan results while scanning. Zero disables it.
	ReadvertiseInterval time.Duration
}

// WrittenValue records a value written to a characteristic
type WrittenValue struct {
	Timestamp          time.Time `json:"timestamp"`
	Address            string    `json:"address"`
	CharacteristicUUID string    `json:"characteristicUuid"`
	Data               []byte    `json:"data"`
	DataHex            string    `json:"dataHex"`
	Description        string    `json:"description"`
}

// MockTrainerState is the simulated trainer state served by the inspector.
type MockTrainerState struct {
	Address          string `json:"address"`
	Name             string `json:"name"`
	Connected        bool   `json:"connected"`
	ControlGranted   bool   `json:"controlGranted"`
	TargetPowerWatts int    `json:"targetPowerWatts"`
	Running          bool   `json:"running"`
}

type mockCharacteristic struct {
	uuid string
}

func (c *mockCharacteristic) UUID() string {
	return c.uuid
}

type scheduledEvent struct {
	at time.Time
	ev Event
}

// MockRadio implements Radio with simulated FTMS trainers, for running
// without Bluetooth hardware.
type MockRadio struct {
	logger  *log.Logger
	config  MockRadioConfig
	mu      sync.Mutex
	handler func(Event)
	scanGen uint64
	scan    bool
	states  map[string]*MockTrainerState
	links   map[string]*mockLink
	writes  []WrittenValue

	queueMu sync.Mutex
	queue   []scheduledEvent
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Radio = (*MockRadio)(nil)

// DefaultMockTrainers is what --mock exposes.
var DefaultMockTrainers = []MockTrainer{
	{Address: "00:11:22:33:44:01", Name: "Mock KICKR", RSSI: -48},
	{Address: "00:11:22:33:44:02", Name: "Mock Neo 2T", RSSI: -67},
}

func NewMockRadio(logger *log.Logger, config MockRadioConfig) *MockRadio {
	if logger == nil {
		panic("MockRadio: logger cannot be nil")
	}
	trainers := make([]MockTrainer, len(config.Trainers))
	for i, t := range config.Trainers {
		if canonical, err := CleanAddress(t.Address); err == nil {
			t.Address = canonical
		}
		trainers[i] = t
	}
	config.Trainers = trainers

	ctx, cancel := context.WithCancel(context.Background())
	r := &MockRadio{
		logger: logger,
		config: config,
		states: make(map[string]*MockTrainerState),
		links:  make(map[string]*mockLink),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, t := range config.Trainers {
		r.states[t.Address] = &MockTrainerState{Address: t.Address, Name: t.Name}
	}
	go_func_utils.SafeGoGroup(logger, &r.wg, r.dispatchLoop)
	return r
}

func (r *MockRadio) Enable() error {
	return nil
}

func (r *MockRadio) SetEventHandler(handler func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

// schedule queues ev for delivery after the configured latency. Events are
// delivered in the order they were scheduled.
func (r *MockRadio) schedule(ev Event) {
	r.queueMu.Lock()
	r.queue = append(r.queue, scheduledEvent{at: time.Now().Add(r.config.Latency), ev: ev})
	r.queueMu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *MockRadio) dispatchLoop() {
	for {
		r.queueMu.Lock()
		if len(r.queue) == 0 {
			r.queueMu.Unlock()
			select {
			case <-r.ctx.Done():
				return
			case <-r.wake:
			}
			continue
		}
		next := r.queue[0]
		r.queue = r.queue[1:]
		r.queueMu.Unlock()

		if wait := time.Until(next.at); wait > 0 {
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		r.mu.Lock()
		handler := r.handler
		r.mu.Unlock()
		if handler != nil {
			handler(next.ev)
		}
	}
}

func (r *MockRadio) StartScan(serviceUUID string) error {
	if ftms.NormalizeUUID(serviceUUID) != ftms.ServiceUUID {
		return fmt.Errorf("mock radio only advertises %s", ftms.ServiceUUID)
	}
	r.mu.Lock()
	r.scan = true
	r.scanGen++
	gen := r.scanGen
	r.mu.Unlock()

	r.logger.Println("MockRadio: Starting scan")
	r.advertise()
	if r.config.ReadvertiseInterval > 0 {
		go_func_utils.SafeGoGroup(r.logger, &r.wg, func() {
			ticker := time.NewTicker(r.config.ReadvertiseInterval)
			defer ticker.Stop()
			for {
				select {
				case <-r.ctx.Done():
					return
				case <-ticker.C:
					r.mu.Lock()
					current := r.scan && r.scanGen == gen
					r.mu.Unlock()
					if !current {
						return
					}
					r.advertise()
				}
			}
		})
	}
	return nil
}

func (r *MockRadio) advertise() {
	for _, t := range r.config.Trainers {
		r.schedule(ScanResultEvent{Name: t.Name, Address: t.Address, RSSI: t.RSSI})
	}
}

func (r *MockRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scan {
		r.logger.Println("MockRadio: Stopping scan")
	}
	r.scan = false
	return nil
}

func (r *MockRadio) trainer(address string) (MockTrainer, bool) {
	for _, t := range r.config.Trainers {
		if strings.EqualFold(t.Address, address) {
			return t, true
		}
	}
	return MockTrainer{}, false
}

// ParseAddress accepts any identifier a test or config could name.
func (r *MockRadio) ParseAddress(address string) (string, error) {
	return CleanAddress(address)
}

func (r *MockRadio) NewLink(address string) (Link, error) {
	canonical, err := r.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return &mockLink{radio: r, address: canonical, subscribed: make(map[string]bool)}, nil
}

// DropLink simulates the trainer going away with the given hardware status.
func (r *MockRadio) DropLink(address string, status int) {
	r.mu.Lock()
	link := r.links[address]
	r.mu.Unlock()
	if link == nil {
		return
	}
	link.markClosed()
	r.schedule(LinkStateEvent{Link: link, Connected: false, Status: status})
}

// RevokeControl simulates another client taking over the trainer.
func (r *MockRadio) RevokeControl(address string) {
	r.mu.Lock()
	link := r.links[address]
	if s := r.states[address]; s != nil {
		s.ControlGranted = false
	}
	r.mu.Unlock()
	if link == nil {
		return
	}
	link.notify(ftms.CharUUIDMachineStatus, []byte{ftms.StatusControlPermissionLost})
}

func (r *MockRadio) State(address string) (MockTrainerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[address]
	if !ok {
		return MockTrainerState{}, false
	}
	return *s, true
}

// WrittenValues returns the write history, oldest first.
func (r *MockRadio) WrittenValues() []WrittenValue {
	r.mu.Lock()
	defer r.mu.Unlock()
	writes := make([]WrittenValue, len(r.writes))
	copy(writes, r.writes)
	return writes
}

func (r *MockRadio) recordWrite(address, uuid string, data []byte) {
	description := ""
	if uuid == ftms.CharUUIDControlPoint {
		description = ftms.Describe(data)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, WrittenValue{
		Timestamp:          time.Now(),
		Address:            address,
		CharacteristicUUID: uuid,
		Data:               data,
		DataHex:            hex.EncodeToString(data),
		Description:        description,
	})
	// Keep only last 100 writes
	if len(r.writes) > 100 {
		r.writes = r.writes[len(r.writes)-100:]
	}
}

// controlResult applies a control point command to the simulated trainer and
// returns the result code it answers with.
func (r *MockRadio) controlResult(t MockTrainer, data []byte) byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.states[t.Address]
	op := data[0]
	if op == ftms.OpCodeRequestControl {
		if t.DenyControl {
			return ftms.ResultControlNotPermitted
		}
		s.ControlGranted = true
		return ftms.ResultSuccess
	}
	if !s.ControlGranted {
		return ftms.ResultControlNotPermitted
	}
	switch op {
	case ftms.OpCodeSetTargetPower:
		if len(data) < 3 {
			return ftms.ResultInvalidParameter
		}
		s.TargetPowerWatts = int(int16(uint16(data[1]) | uint16(data[2])<<8))
	case ftms.OpCodeStartOrResume:
		s.Running = true
	case ftms.OpCodeStopOrPause:
		s.Running = false
	case ftms.OpCodeReset:
		s.Running = false
		s.ControlGranted = false
		s.TargetPowerWatts = 0
	case ftms.OpCodeSetTargetResistance, ftms.OpCodeSetIndoorBikeSimulation:
	default:
		return ftms.ResultOpCodeNotSupported
	}
	return ftms.ResultSuccess
}

// Handler serves the simulated trainer state and write history for
// inspection while running with --mock.
func (r *MockRadio) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /state", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		states := make([]MockTrainerState, 0, len(r.config.Trainers))
		for _, t := range r.config.Trainers {
			states = append(states, *r.states[t.Address])
		}
		r.mu.Unlock()
		writeJSON(w, states)
	})
	mux.HandleFunc("GET /writes", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, r.WrittenValues())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Shutdown stops event delivery and waits for the simulation goroutines.
func (r *MockRadio) Shutdown() {
	r.logger.Println("MockRadio: Shutting down")
	r.cancel()
	r.wg.Wait()
}

type mockLink struct {
	radio      *MockRadio
	address    string
	trainer    MockTrainer
	mu         sync.Mutex
	closed     bool
	services   []Service
	subscribed map[string]bool
}

var _ Link = (*mockLink)(nil)

func (l *mockLink) Address() string {
	return l.address
}

func (l *mockLink) Connect() error {
	r := l.radio
	t, ok := r.trainer(l.address)
	if !ok {
		r.logger.Printf("MockRadio: No trainer at %s", l.address)
		r.schedule(LinkStateEvent{Link: l, Connected: false, Err: errors.New("device not found")})
		return nil
	}

	l.mu.Lock()
	l.trainer = t
	l.mu.Unlock()

	r.mu.Lock()
	r.links[t.Address] = l
	if s := r.states[t.Address]; s != nil {
		s.Connected = true
		s.ControlGranted = false
	}
	r.mu.Unlock()

	r.logger.Printf("MockRadio: Connecting to %s", l.address)
	r.schedule(LinkStateEvent{Link: l, Connected: true})
	return nil
}

func (l *mockLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *mockLink) markClosed() bool {
	l.mu.Lock()
	wasClosed := l.closed
	l.closed = true
	l.mu.Unlock()

	r := l.radio
	r.mu.Lock()
	if r.links[l.address] == l {
		delete(r.links, l.address)
		if s := r.states[l.address]; s != nil {
			s.Connected = false
			s.ControlGranted = false
		}
	}
	r.mu.Unlock()
	return !wasClosed
}

func (l *mockLink) DiscoverServices() error {
	if l.isClosed() {
		return ErrNotConnected
	}
	chars := []Characteristic{
		&mockCharacteristic{uuid: ftms.CharUUIDIndoorBikeData},
		&mockCharacteristic{uuid: ftms.CharUUIDMachineStatus},
	}
	if !l.trainer.OmitControlPoint {
		chars = append(chars, &mockCharacteristic{uuid: ftms.CharUUIDControlPoint})
	}
	services := []Service{
		{UUID: "00001800-0000-1000-8000-00805f9b34fb"},
		{UUID: ftms.ServiceUUID, Characteristics: chars},
	}
	l.mu.Lock()
	l.services = services
	l.mu.Unlock()
	l.radio.schedule(ServicesDiscoveredEvent{Link: l, Services: services})
	return nil
}

func (l *mockLink) owns(c Characteristic) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.services {
		for _, sc := range s.Characteristics {
			if sc == c {
				return true
			}
		}
	}
	return false
}

func (l *mockLink) EnableIndications(c Characteristic) error {
	if l.isClosed() {
		return ErrNotConnected
	}
	if !l.owns(c) {
		return ErrUnknownCharacteristic
	}
	l.mu.Lock()
	l.subscribed[c.UUID()] = true
	l.mu.Unlock()
	l.radio.schedule(DescriptorWrittenEvent{Link: l, Characteristic: c})
	return nil
}

func (l *mockLink) Write(c Characteristic, data []byte) error {
	if l.isClosed() {
		return ErrNotConnected
	}
	if !l.owns(c) {
		return ErrUnknownCharacteristic
	}
	payload := append([]byte(nil), data...)
	l.radio.recordWrite(l.address, c.UUID(), payload)
	l.radio.schedule(CharacteristicWrittenEvent{Link: l, Characteristic: c})

	if c.UUID() == ftms.CharUUIDControlPoint && len(payload) > 0 {
		result := l.radio.controlResult(l.trainer, payload)
		l.radio.logger.Printf("MockRadio: %s -> %s", ftms.Describe(payload), ftms.ResultName(result))
		l.notify(ftms.CharUUIDControlPoint, []byte{ftms.OpCodeResponseCode, payload[0], result})
	}
	return nil
}

// notify delivers a value on a subscribed characteristic.
func (l *mockLink) notify(uuid string, value []byte) {
	l.mu.Lock()
	subscribed := l.subscribed[uuid] && !l.closed
	var target Characteristic
	for _, s := range l.services {
		if c, ok := s.FindCharacteristic(uuid); ok {
			target = c
		}
	}
	l.mu.Unlock()
	if !subscribed || target == nil {
		return
	}
	l.radio.schedule(CharacteristicChangedEvent{Link: l, Characteristic: target, Value: value})
}

func (l *mockLink) Close() error {
	if l.markClosed() {
		l.radio.logger.Printf("MockRadio: Disconnected from %s", l.address)
		l.radio.schedule(LinkStateEvent{Link: l, Connected: false})
	}
	return nil
}
