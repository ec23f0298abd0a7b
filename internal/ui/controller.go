package ui

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/forcegage-pvm/braven-extension/internal/go_func_utils"
	"github.com/forcegage-pvm/braven-extension/internal/trainer"
	"github.com/forcegage-pvm/braven-extension/internal/workout"
)

// Trainer is the controller surface the UI drives.
type Trainer interface {
	Status() trainer.TrainerStatus
	ListenToStatus(ch chan<- trainer.TrainerStatus) func()
	StartScan()
	StopScan()
	Connect(address string)
	Disconnect()
	RequestControl()
	SetTargetPower(watts int)
}

// WorkoutRunner is the workout surface the UI drives.
type WorkoutRunner interface {
	State() workout.State
	Listen(ch chan<- workout.State) func()
	Load(w *workout.Workout) bool
	Start()
	Pause()
	Stop()
}

type ControllerOptions struct {
	PowerStep   int
	AutoConnect bool
}

// DefaultPowerStep is the +/- adjustment in watts.
const DefaultPowerStep = 10

// Controller turns UI actions into trainer and workout commands. It also
// reconnects to the last used trainer when a scan finds it.
type Controller struct {
	trainer  Trainer
	runner   WorkoutRunner
	prefs    *Preferences
	logger   *log.Logger
	options  ControllerOptions
	workouts []workout.Workout

	mu               sync.Mutex
	autoConnectTried bool
	lastState        trainer.TrainerState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewController(t Trainer, runner WorkoutRunner, prefs *Preferences, workouts []workout.Workout, logger *log.Logger, options ControllerOptions) *Controller {
	if t == nil {
		panic("UIController: trainer cannot be nil")
	}
	if runner == nil {
		panic("UIController: runner cannot be nil")
	}
	if prefs == nil {
		panic("UIController: preferences cannot be nil")
	}
	if logger == nil {
		panic("UIController: logger cannot be nil")
	}
	if options.PowerStep <= 0 {
		options.PowerStep = DefaultPowerStep
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		trainer:  t,
		runner:   runner,
		prefs:    prefs,
		logger:   logger,
		options:  options,
		workouts: workouts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start restores the last workout, begins watching the trainer status and,
// with auto-connect enabled and a remembered trainer, starts a scan.
func (c *Controller) Start() {
	if name := c.prefs.LastWorkout(); name != "" {
		for i := range c.workouts {
			if c.workouts[i].Name == name {
				c.SelectWorkout(i)
				break
			}
		}
	}

	ch := make(chan trainer.TrainerStatus, 8)
	unregister := c.trainer.ListenToStatus(ch)
	go_func_utils.SafeGoGroup(c.logger, &c.wg, func() {
		defer unregister()
		for {
			select {
			case <-c.ctx.Done():
				return
			case st := <-ch:
				c.onStatus(st)
			}
		}
	})

	if address, _ := c.prefs.LastTrainer(); address != "" && c.options.AutoConnect {
		c.logger.Printf("UIController: scanning for last trainer %s", address)
		c.trainer.StartScan()
	}
}

// Close stops the status watcher.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) Workouts() []workout.Workout {
	return c.workouts
}

func (c *Controller) onStatus(st trainer.TrainerStatus) {
	c.mu.Lock()
	if st.State == trainer.Scanning && c.lastState != trainer.Scanning {
		c.autoConnectTried = false
	}
	c.lastState = st.State

	if !c.options.AutoConnect || c.autoConnectTried || st.State != trainer.Scanning {
		c.mu.Unlock()
		return
	}
	address, _ := c.prefs.LastTrainer()
	if address == "" {
		c.mu.Unlock()
		return
	}
	var found *trainer.ScannedDevice
	for i := range st.ScannedDevices {
		if strings.EqualFold(st.ScannedDevices[i].Address, address) {
			found = &st.ScannedDevices[i]
			break
		}
	}
	if found == nil {
		c.mu.Unlock()
		return
	}
	c.autoConnectTried = true
	c.mu.Unlock()

	c.logger.Printf("UIController: auto-connecting to %s (%s)", found.Name, found.Address)
	c.trainer.Connect(found.Address)
}

// ToggleScan starts a scan, or stops the one in progress.
func (c *Controller) ToggleScan() {
	if c.trainer.Status().State == trainer.Scanning {
		c.trainer.StopScan()
		return
	}
	c.trainer.StartScan()
}

// ConnectIndex connects to the index-th scanned device and remembers it.
func (c *Controller) ConnectIndex(index int) {
	devices := c.trainer.Status().ScannedDevices
	if index < 0 || index >= len(devices) {
		c.logger.Printf("UIController: no scanned device at index %d (have %d)", index, len(devices))
		return
	}
	device := devices[index]
	c.logger.Printf("UIController: connecting to %s (%s)", device.Name, device.Address)

	c.mu.Lock()
	c.autoConnectTried = true
	c.mu.Unlock()

	c.prefs.SetLastTrainer(device.Address, device.Name)
	c.trainer.Connect(device.Address)
}

func (c *Controller) Disconnect() {
	if c.runner.State().Status == workout.StatusRunning {
		c.runner.Pause()
	}
	c.trainer.Disconnect()
}

func (c *Controller) RequestControl() {
	c.trainer.RequestControl()
}

func (c *Controller) IncreasePower() {
	c.adjustPower(c.options.PowerStep)
}

func (c *Controller) DecreasePower() {
	c.adjustPower(-c.options.PowerStep)
}

func (c *Controller) adjustPower(delta int) {
	st := c.trainer.Status()
	if st.State != trainer.Controlling {
		c.logger.Printf("UIController: cannot adjust power in state %s", st.State)
		return
	}
	current := 0
	if st.TargetPowerWatts != nil {
		current = *st.TargetPowerWatts
	}
	next := current + delta
	if next < 0 {
		next = 0
	}
	c.trainer.SetTargetPower(next)
}

// SelectWorkout loads the index-th workout into the runner.
func (c *Controller) SelectWorkout(index int) {
	if index < 0 || index >= len(c.workouts) {
		return
	}
	w := c.workouts[index]
	if c.runner.Load(&w) {
		c.prefs.SetLastWorkout(w.Name)
	}
}

// ToggleWorkout starts, pauses or resumes the loaded workout.
func (c *Controller) ToggleWorkout() {
	if c.runner.State().Status == workout.StatusRunning {
		c.runner.Pause()
		return
	}
	c.runner.Start()
}

func (c *Controller) StopWorkout() {
	c.runner.Stop()
}
