package trainer

import (
	"errors"
	"sync"

	"github.com/forcegage-pvm/braven-extension/internal/bt"
	"github.com/forcegage-pvm/braven-extension/internal/ftms"
)

type fakeChar struct {
	uuid string
}

func (c *fakeChar) UUID() string { return c.uuid }

type linkOp struct {
	kind string // "indicate" or "write"
	uuid string
	data []byte
}

// fakeLink records every operation and leaves completions to the test.
type fakeLink struct {
	address       string
	mu            sync.Mutex
	ops           []linkOp
	connectCalls  int
	discoverCalls int
	closeCalls    int
	writeErr      error
}

func (l *fakeLink) Address() string { return l.address }

func (l *fakeLink) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connectCalls++
	return nil
}

func (l *fakeLink) DiscoverServices() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discoverCalls++
	return nil
}

func (l *fakeLink) EnableIndications(c bt.Characteristic) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, linkOp{kind: "indicate", uuid: c.UUID()})
	return nil
}

func (l *fakeLink) Write(c bt.Characteristic, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.ops = append(l.ops, linkOp{kind: "write", uuid: c.UUID(), data: append([]byte(nil), data...)})
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeCalls++
	return nil
}

func (l *fakeLink) Ops() []linkOp {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]linkOp(nil), l.ops...)
}

func (l *fakeLink) Writes() [][]byte {
	var out [][]byte
	for _, op := range l.Ops() {
		if op.kind == "write" {
			out = append(out, op.data)
		}
	}
	return out
}

func (l *fakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeCalls > 0
}

// fakeRadio hands out fakeLinks and lets the test deliver events.
type fakeRadio struct {
	mu         sync.Mutex
	handler    func(bt.Event)
	enableErr  error
	scanErr    error
	scanStarts int
	scanStops  int
	scanning   bool
	links      []*fakeLink
}

var _ bt.Radio = (*fakeRadio)(nil)

func (r *fakeRadio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enableErr
}

func (r *fakeRadio) SetEventHandler(handler func(bt.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = handler
}

func (r *fakeRadio) StartScan(serviceUUID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if serviceUUID != ftms.ServiceUUID {
		return errors.New("unexpected service filter")
	}
	if r.scanErr != nil {
		return r.scanErr
	}
	r.scanStarts++
	r.scanning = true
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanStops++
	r.scanning = false
	return nil
}

func (r *fakeRadio) ParseAddress(address string) (string, error) {
	return bt.CleanAddress(address)
}

func (r *fakeRadio) NewLink(address string) (bt.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link := &fakeLink{address: address}
	r.links = append(r.links, link)
	return link, nil
}

func (r *fakeRadio) emit(ev bt.Event) {
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()
	handler(ev)
}

func (r *fakeRadio) Links() []*fakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeLink(nil), r.links...)
}

func (r *fakeRadio) Counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanStarts, r.scanStops
}

type ftmsChars struct {
	controlPoint  *fakeChar
	machineStatus *fakeChar
	bikeData      *fakeChar
}

// ftmsServices builds a discovery result for an FTMS trainer.
func ftmsServices(withMachineStatus bool) ([]bt.Service, ftmsChars) {
	chars := ftmsChars{
		controlPoint: &fakeChar{uuid: ftms.CharUUIDControlPoint},
		bikeData:     &fakeChar{uuid: ftms.CharUUIDIndoorBikeData},
	}
	list := []bt.Characteristic{chars.bikeData, chars.controlPoint}
	if withMachineStatus {
		chars.machineStatus = &fakeChar{uuid: ftms.CharUUIDMachineStatus}
		list = append(list, chars.machineStatus)
	}
	return []bt.Service{
		{UUID: "00001800-0000-1000-8000-00805f9b34fb"},
		{UUID: ftms.ServiceUUID, Characteristics: list},
	}, chars
}
