package workout

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/forcegage-pvm/braven-extension/internal/events"
	"github.com/forcegage-pvm/braven-extension/internal/go_func_utils"
	"github.com/forcegage-pvm/braven-extension/internal/trainer"
)

// Status of the runner.
type Status int

const (
	StatusIdle      Status = iota // nothing loaded
	StatusReady                   // loaded, not started
	StatusRunning                 // ticking
	StatusPaused                  // paused, elapsed time kept
	StatusCompleted               // ran to the end
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusReady:
		return "Ready"
	case StatusRunning:
		return "Running"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

const (
	DefaultFTP  = 220
	DefaultTick = time.Second
)

// PowerTarget receives the targets computed by the runner.
type PowerTarget interface {
	SetTargetPower(watts int)
	Pause()
	Resume()
}

// TrainerStatusSource streams trainer status changes.
type TrainerStatusSource interface {
	ListenToStatus(ch chan<- trainer.TrainerStatus) func()
}

// State is a point-in-time view of the runner.
type State struct {
	Status           Status
	Workout          *Workout
	BlockIndex       int
	Elapsed          time.Duration
	Remaining        time.Duration
	BlockElapsed     time.Duration
	BlockRemaining   time.Duration
	TargetFTP        float64
	TargetPowerWatts int
}

// Runner executes an ERG workout against a PowerTarget. Targets are sent only
// when the computed wattage changes.
type Runner struct {
	target PowerTarget
	logger *log.Logger
	tick   time.Duration
	state  *events.Observable[State]

	// stepMu serializes steps so targets reach the trainer in order.
	stepMu sync.Mutex

	mu         sync.Mutex
	workout    *Workout
	status     Status
	elapsed    time.Duration
	ftp        int
	lastTarget int
	lastBlock  int

	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewRunner starts the runner's tick goroutine. A non-positive tick selects
// DefaultTick.
func NewRunner(target PowerTarget, logger *log.Logger, tick time.Duration) *Runner {
	if target == nil {
		panic("Runner: target cannot be nil")
	}
	if logger == nil {
		panic("Runner: logger cannot be nil")
	}
	if tick <= 0 {
		tick = DefaultTick
	}

	r := &Runner{
		target:     target,
		logger:     logger,
		tick:       tick,
		state:      events.NewObservableWithValue(State{Status: StatusIdle, BlockIndex: -1}),
		ftp:        DefaultFTP,
		lastTarget: -1,
		lastBlock:  -1,
		doneChan:   make(chan struct{}),
	}

	go_func_utils.SafeGoGroup(logger, &r.wg, r.loop)
	return r
}

// SetFTP sets the functional threshold power used to scale blocks.
func (r *Runner) SetFTP(ftp int) {
	if ftp <= 0 {
		r.logger.Printf("Runner: ignoring invalid FTP %d", ftp)
		return
	}
	r.mu.Lock()
	r.ftp = ftp
	r.mu.Unlock()
	r.logger.Printf("Runner: FTP set to %d W", ftp)
}

func (r *Runner) FTP() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ftp
}

// Load selects the workout to run. Refused while running or paused.
func (r *Runner) Load(w *Workout) bool {
	r.mu.Lock()
	if r.status == StatusRunning || r.status == StatusPaused {
		r.mu.Unlock()
		r.logger.Printf("Runner: cannot load a workout while one is active")
		return false
	}

	r.workout = w
	r.elapsed = 0
	r.lastTarget = -1
	r.lastBlock = -1
	if w != nil {
		r.status = StatusReady
		r.logger.Printf("Runner: loaded %q (%v)", w.Name, w.TotalDuration())
	} else {
		r.status = StatusIdle
	}
	r.publishLocked()
	r.mu.Unlock()
	return true
}

// Start begins a loaded workout, resumes a paused one, or restarts a
// completed one.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.workout == nil {
		r.mu.Unlock()
		r.logger.Printf("Runner: no workout loaded")
		return
	}

	resumed := false
	switch r.status {
	case StatusRunning:
		r.mu.Unlock()
		return
	case StatusPaused:
		resumed = true
	case StatusCompleted:
		r.elapsed = 0
		r.lastTarget = -1
		r.lastBlock = -1
	}
	r.status = StatusRunning
	r.publishLocked()
	r.mu.Unlock()

	if resumed {
		r.logger.Printf("Runner: resumed")
		r.target.Resume()
	} else {
		r.logger.Printf("Runner: started")
	}
	r.step(0)
}

// Pause freezes elapsed time and pauses the trainer.
func (r *Runner) Pause() {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		r.logger.Printf("Runner: cannot pause, not running")
		return
	}
	r.status = StatusPaused
	r.publishLocked()
	r.mu.Unlock()

	r.logger.Printf("Runner: paused")
	r.target.Pause()
}

// Stop rewinds the workout to the beginning and keeps it loaded.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.workout == nil {
		r.mu.Unlock()
		return
	}
	r.status = StatusReady
	r.elapsed = 0
	r.lastTarget = -1
	r.lastBlock = -1
	r.publishLocked()
	r.mu.Unlock()
	r.logger.Printf("Runner: stopped")
}

// Shutdown stops the tick goroutine. Safe to call more than once.
func (r *Runner) Shutdown() {
	r.shutdownOnce.Do(func() {
		close(r.doneChan)
		r.wg.Wait()
		r.logger.Printf("Runner: shutdown complete")
	})
}

// State returns the current runner state.
func (r *Runner) State() State {
	s, _ := r.state.Latest()
	return s
}

// Listen registers a channel for state changes and returns its
// deregistration function.
func (r *Runner) Listen(ch chan<- State) func() {
	return r.state.Listen(ch)
}

// Resync forgets the last target sent, so a running workout sends its
// current target again right away.
func (r *Runner) Resync() {
	r.mu.Lock()
	r.lastTarget = -1
	r.mu.Unlock()
	r.step(0)
}

// FollowTrainer resyncs every time the trainer enters Controlling. Targets
// sent before control was granted were dropped by the trainer controller.
func (r *Runner) FollowTrainer(src TrainerStatusSource) {
	ch := make(chan trainer.TrainerStatus, 8)
	unregister := src.ListenToStatus(ch)
	go_func_utils.SafeGoGroup(r.logger, &r.wg, func() {
		defer unregister()
		last := trainer.Disconnected
		for {
			select {
			case <-r.doneChan:
				return
			case st := <-ch:
				if st.State == trainer.Controlling && last != trainer.Controlling {
					r.logger.Printf("Runner: trainer under control, resending target")
					r.Resync()
				}
				last = st.State
			}
		}
	})
}

func (r *Runner) loop() {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-r.doneChan:
			return
		case <-ticker.C:
			r.step(r.tick)
		}
	}
}

// step advances a running workout by d and sends the new target if it
// changed.
func (r *Runner) step(d time.Duration) {
	r.stepMu.Lock()
	defer r.stepMu.Unlock()

	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return
	}

	r.elapsed += d
	total := r.workout.TotalDuration()
	if r.elapsed >= total {
		r.elapsed = total
		r.status = StatusCompleted
		r.publishLocked()
		name := r.workout.Name
		r.mu.Unlock()
		r.logger.Printf("Runner: %q complete", name)
		return
	}

	st := r.buildStateLocked()
	if st.BlockIndex != r.lastBlock {
		r.logger.Printf("Runner: block %d of %d", st.BlockIndex+1, len(r.workout.Blocks))
		r.lastBlock = st.BlockIndex
	}
	send := st.TargetPowerWatts != r.lastTarget
	if send {
		r.lastTarget = st.TargetPowerWatts
	}
	r.state.Publish(st)
	r.mu.Unlock()

	if send {
		r.target.SetTargetPower(st.TargetPowerWatts)
	}
}

func (r *Runner) publishLocked() {
	r.state.Publish(r.buildStateLocked())
}

func (r *Runner) buildStateLocked() State {
	st := State{Status: r.status, Workout: r.workout, BlockIndex: -1}
	if r.workout == nil || r.status == StatusIdle {
		return st
	}

	total := r.workout.TotalDuration()
	idx, inBlock, mult := r.workout.Position(r.elapsed)
	st.Elapsed = r.elapsed
	st.Remaining = total - r.elapsed
	st.BlockIndex = idx
	st.BlockElapsed = inBlock
	if idx >= 0 {
		st.BlockRemaining = r.workout.Blocks[idx].Duration - inBlock
	}
	st.TargetFTP = mult
	st.TargetPowerWatts = int(math.Round(mult * float64(r.ftp)))
	return st
}
