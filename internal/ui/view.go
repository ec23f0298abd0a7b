package ui

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/forcegage-pvm/braven-extension/internal/go_func_utils"
	"github.com/forcegage-pvm/braven-extension/internal/trainer"
	"github.com/forcegage-pvm/braven-extension/internal/workout"
)

const maxLogLines = 500

const helpText = "[yellow]S[white] Scan  [yellow]Enter[white] Connect  [yellow]D[white] Disconnect  [yellow]C[white] Control  " +
	"[yellow]+/-[white] Power  [yellow]Space[white] Start/Pause  [yellow]X[white] Stop  [yellow]Tab[white] Focus  [yellow]Esc[white] Quit"

// View is the tview terminal UI: trainer status, scanned devices, workouts
// and a log tail.
type View struct {
	logger     *log.Logger
	app        *tview.Application
	controller *Controller
	trainer    Trainer
	runner     WorkoutRunner

	root          *tview.Flex
	statusPanel   *tview.TextView
	deviceList    *tview.List
	workoutList   *tview.List
	workoutPanel  *tview.TextView
	logView       *tview.TextView
	focusCycle    []tview.Primitive
	focusIndex    int
	deviceAddrs   []string
	logMu         sync.Mutex
	logLines      []string
	logPending    atomic.Bool
	running       atomic.Bool
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	stopRequested sync.Once
}

func NewView(controller *Controller, t Trainer, runner WorkoutRunner, logger *log.Logger) *View {
	if controller == nil {
		panic("View: controller cannot be nil")
	}
	if t == nil {
		panic("View: trainer cannot be nil")
	}
	if runner == nil {
		panic("View: runner cannot be nil")
	}
	if logger == nil {
		panic("View: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		logger:     logger,
		app:        tview.NewApplication(),
		controller: controller,
		trainer:    t,
		runner:     runner,
		ctx:        ctx,
		cancel:     cancel,
	}
	v.build()
	v.setupKeys()
	return v
}

func (v *View) build() {
	v.statusPanel = tview.NewTextView().SetDynamicColors(true)
	v.statusPanel.SetBorder(true).SetTitle(" Trainer ")
	v.statusPanel.SetText(formatStatus(v.trainer.Status()))

	v.deviceList = tview.NewList().
		ShowSecondaryText(false).
		SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			v.controller.ConnectIndex(index)
		})
	v.deviceList.SetBorder(true).SetTitle(" Trainers ")

	v.workoutList = tview.NewList().
		ShowSecondaryText(true).
		SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			v.controller.SelectWorkout(index)
		})
	v.workoutList.SetBorder(true).SetTitle(" Workouts ")
	for _, w := range v.controller.Workouts() {
		v.workoutList.AddItem(w.Name, formatDuration(w.TotalDuration()), 0, nil)
	}

	v.workoutPanel = tview.NewTextView().SetDynamicColors(true)
	v.workoutPanel.SetBorder(true).SetTitle(" Workout ")
	v.workoutPanel.SetText(formatWorkout(v.runner.State()))

	v.logView = tview.NewTextView().SetDynamicColors(false).SetScrollable(false)
	v.logView.SetBorder(true).SetTitle(" Log ")

	help := tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter)
	help.SetText(helpText)

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(v.statusPanel, 8, 0, false).
		AddItem(v.deviceList, 0, 1, true).
		AddItem(v.workoutList, 0, 1, false)

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(v.workoutPanel, 0, 1, false).
		AddItem(v.logView, 0, 1, false)

	body := tview.NewFlex().
		AddItem(left, 0, 1, true).
		AddItem(right, 0, 1, false)

	v.root = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(help, 1, 0, false).
		AddItem(body, 0, 1, true)

	v.focusCycle = []tview.Primitive{v.deviceList, v.workoutList}
}

func (v *View) setupKeys() {
	v.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			v.Stop()
			return nil
		case tcell.KeyTab:
			v.focusIndex = (v.focusIndex + 1) % len(v.focusCycle)
			v.app.SetFocus(v.focusCycle[v.focusIndex])
			return nil
		case tcell.KeyRune:
		default:
			return event
		}

		switch event.Rune() {
		case 's':
			v.controller.ToggleScan()
		case 'd':
			v.controller.Disconnect()
		case 'c':
			v.controller.RequestControl()
		case '+', '=':
			v.controller.IncreasePower()
		case '-':
			v.controller.DecreasePower()
		case ' ':
			v.controller.ToggleWorkout()
		case 'x':
			v.controller.StopWorkout()
		default:
			return event
		}
		return nil
	})
}

// Write appends log output to the log panel; the view is an io.Writer so it
// can be added to the logger's output.
func (v *View) Write(p []byte) (int, error) {
	v.logMu.Lock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		v.logLines = append(v.logLines, line)
	}
	if len(v.logLines) > maxLogLines {
		v.logLines = v.logLines[len(v.logLines)-maxLogLines:]
	}
	v.logMu.Unlock()

	if v.running.Load() && v.logPending.CompareAndSwap(false, true) {
		go v.app.QueueUpdateDraw(func() {
			v.logPending.Store(false)
			v.renderLog()
		})
	}
	return len(p), nil
}

func (v *View) renderLog() {
	_, _, _, height := v.logView.GetInnerRect()
	v.logMu.Lock()
	lines := v.logLines
	if height > 0 && len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	text := strings.Join(lines, "\n")
	v.logMu.Unlock()
	v.logView.SetText(text)
}

func (v *View) listen() {
	statusCh := make(chan trainer.TrainerStatus, 8)
	unregisterStatus := v.trainer.ListenToStatus(statusCh)
	workoutCh := make(chan workout.State, 8)
	unregisterWorkout := v.runner.Listen(workoutCh)

	go_func_utils.SafeGoGroup(v.logger, &v.wg, func() {
		defer unregisterStatus()
		defer unregisterWorkout()
		for {
			select {
			case <-v.ctx.Done():
				return
			case st := <-statusCh:
				v.app.QueueUpdateDraw(func() { v.renderStatus(st) })
			case ws := <-workoutCh:
				v.app.QueueUpdateDraw(func() { v.workoutPanel.SetText(formatWorkout(ws)) })
			}
		}
	})
}

func (v *View) renderStatus(st trainer.TrainerStatus) {
	v.statusPanel.SetText(formatStatus(st))

	current := -1
	if idx := v.deviceList.GetCurrentItem(); idx >= 0 && idx < len(v.deviceAddrs) {
		current = idx
	}
	var selected string
	if current >= 0 {
		selected = v.deviceAddrs[current]
	}

	v.deviceList.Clear()
	v.deviceAddrs = v.deviceAddrs[:0]
	for i, d := range st.ScannedDevices {
		v.deviceList.AddItem(formatDevice(d), "", 0, nil)
		v.deviceAddrs = append(v.deviceAddrs, d.Address)
		if d.Address == selected {
			v.deviceList.SetCurrentItem(i)
		}
	}
}

// Run blocks until the user quits.
func (v *View) Run() error {
	v.listen()
	v.app.SetRoot(v.root, true).SetFocus(v.deviceList)
	v.running.Store(true)
	err := v.app.Run()
	v.running.Store(false)
	v.cancel()
	v.wg.Wait()
	return err
}

func (v *View) Stop() {
	v.stopRequested.Do(func() {
		v.running.Store(false)
		v.cancel()
		v.app.Stop()
	})
}

func formatStatus(st trainer.TrainerStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  [gray]State:[white]   %s\n", colorState(st.State))
	if st.DeviceName != nil {
		fmt.Fprintf(&b, "  [gray]Trainer:[white] %s\n", tview.Escape(*st.DeviceName))
	} else {
		b.WriteString("  [gray]Trainer:[white] [gray]none[white]\n")
	}
	if st.TargetPowerWatts != nil {
		fmt.Fprintf(&b, "  [gray]Target:[white]  [yellow]%d[white] W\n", *st.TargetPowerWatts)
	} else {
		b.WriteString("  [gray]Target:[white]  -\n")
	}
	if st.ErrorMessage != nil {
		fmt.Fprintf(&b, "  [red]%s[white]\n", tview.Escape(*st.ErrorMessage))
	}
	return b.String()
}

func colorState(s trainer.TrainerState) string {
	switch s {
	case trainer.Controlling:
		return "[green]" + s.String() + "[white]"
	case trainer.Error:
		return "[red]" + s.String() + "[white]"
	case trainer.Scanning, trainer.Connecting, trainer.Connected:
		return "[yellow]" + s.String() + "[white]"
	default:
		return s.String()
	}
}

func formatDevice(d trainer.ScannedDevice) string {
	return fmt.Sprintf("%s (%s) [%d dBm]", tview.Escape(d.Name), d.Address, d.Signal)
}

func formatWorkout(st workout.State) string {
	if st.Workout == nil || st.Status == workout.StatusIdle {
		return "\n  [gray]No workout loaded[white]\n\n  Select one from the list and press Enter.\n"
	}

	w := st.Workout
	var b strings.Builder
	fmt.Fprintf(&b, "\n  [yellow]%s[white]", w.Name)
	switch st.Status {
	case workout.StatusPaused:
		b.WriteString(" [gray](paused)[white]")
	case workout.StatusCompleted:
		b.WriteString(" [green](done)[white]")
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "  [gray]Elapsed:[white]   %s\n", formatClock(st.Elapsed))
	fmt.Fprintf(&b, "  [gray]Remaining:[white] %s\n\n", formatClock(st.Remaining))

	if st.BlockIndex >= 0 && st.BlockIndex < len(w.Blocks) && st.Status != workout.StatusCompleted {
		block := w.Blocks[st.BlockIndex]
		fmt.Fprintf(&b, "  [cyan]Block %d/%d[white] %s / %s\n", st.BlockIndex+1, len(w.Blocks),
			formatClock(st.BlockElapsed), formatClock(block.Duration))
		fmt.Fprintf(&b, "  [gray]Target:[white] [yellow]%d[white] W (%s)\n", st.TargetPowerWatts, formatBlockTarget(block))
		if block.Cadence > 0 {
			fmt.Fprintf(&b, "  [gray]Cadence:[white] %d rpm\n", block.Cadence)
		}
		if next := st.BlockIndex + 1; next < len(w.Blocks) {
			fmt.Fprintf(&b, "\n  [gray]Next: %s for %s[white]\n", formatBlockTarget(w.Blocks[next]), formatDuration(w.Blocks[next].Duration))
		} else {
			b.WriteString("\n  [gray]Next:[white] [green]finish[white]\n")
		}
	}
	return b.String()
}

func formatBlockTarget(b workout.Block) string {
	if b.StartFTP == b.EndFTP {
		return fmt.Sprintf("%.0f%% FTP", b.StartFTP*100)
	}
	return fmt.Sprintf("%.0f%% to %.0f%% FTP", b.StartFTP*100, b.EndFTP*100)
}

func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes >= 60 {
		if minutes%60 > 0 {
			return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
		}
		return fmt.Sprintf("%dh", minutes/60)
	}
	if minutes == 0 {
		return fmt.Sprintf("%d s", int(d.Seconds()))
	}
	return fmt.Sprintf("%d min", minutes)
}

func formatClock(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
