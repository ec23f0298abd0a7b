package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/forcegage-pvm/braven-extension/internal/trainer"
	"github.com/forcegage-pvm/braven-extension/internal/workout"
)

func TestFormatStatus(t *testing.T) {
	empty := formatStatus(trainer.TrainerStatus{})
	assert.Contains(t, empty, "Disconnected")
	assert.Contains(t, empty, "none")

	name := "KICKR [v5]"
	watts := 250
	msg := "link lost (status 8)"
	full := formatStatus(trainer.TrainerStatus{
		State:            trainer.Controlling,
		DeviceName:       &name,
		TargetPowerWatts: &watts,
		ErrorMessage:     &msg,
	})
	assert.Contains(t, full, "[green]Controlling[white]")
	assert.Contains(t, full, "KICKR [v5[]")
	assert.Contains(t, full, "[yellow]250[white] W")
	assert.Contains(t, full, "link lost (status 8)")
}

func TestFormatDevice(t *testing.T) {
	d := trainer.ScannedDevice{Name: "Mock KICKR", Address: "00:11:22:33:44:01", Signal: -48}
	assert.Equal(t, "Mock KICKR (00:11:22:33:44:01) [-48 dBm]", formatDevice(d))
}

func TestFormatWorkout(t *testing.T) {
	assert.Contains(t, formatWorkout(workout.State{Status: workout.StatusIdle}), "No workout loaded")

	w := &workout.Workout{
		Name: "Sweet Spot",
		Blocks: []workout.Block{
			{StartFTP: 0.5, EndFTP: 0.7, Duration: 5 * time.Minute},
			{StartFTP: 0.9, EndFTP: 0.9, Cadence: 90, Duration: 20 * time.Minute},
		},
	}
	running := formatWorkout(workout.State{
		Status:           workout.StatusRunning,
		Workout:          w,
		BlockIndex:       0,
		Elapsed:          90 * time.Second,
		Remaining:        (25*60 - 90) * time.Second,
		BlockElapsed:     90 * time.Second,
		TargetPowerWatts: 120,
	})
	assert.Contains(t, running, "Sweet Spot")
	assert.Contains(t, running, "01:30")
	assert.Contains(t, running, "Block 1/2")
	assert.Contains(t, running, "50% to 70% FTP")
	assert.Contains(t, running, "Next: 90% FTP for 20 min")

	paused := formatWorkout(workout.State{Status: workout.StatusPaused, Workout: w, BlockIndex: 1})
	assert.Contains(t, paused, "(paused)")
	assert.Contains(t, paused, "Cadence:[white] 90 rpm")
	assert.Contains(t, paused, "finish")

	done := formatWorkout(workout.State{Status: workout.StatusCompleted, Workout: w, BlockIndex: 1})
	assert.Contains(t, done, "(done)")
	assert.NotContains(t, done, "Block 2/2")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45 s", formatDuration(45*time.Second))
	assert.Equal(t, "30 min", formatDuration(30*time.Minute))
	assert.Equal(t, "1h", formatDuration(time.Hour))
	assert.Equal(t, "1h 15m", formatDuration(75*time.Minute))
	assert.Equal(t, "05:07", formatClock(5*time.Minute+7*time.Second))
}
