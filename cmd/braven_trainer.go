package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/forcegage-pvm/braven-extension/internal/bt"
	"github.com/forcegage-pvm/braven-extension/internal/config"
	"github.com/forcegage-pvm/braven-extension/internal/dashboard"
	"github.com/forcegage-pvm/braven-extension/internal/go_func_utils"
	"github.com/forcegage-pvm/braven-extension/internal/logging"
	"github.com/forcegage-pvm/braven-extension/internal/trainer"
	"github.com/forcegage-pvm/braven-extension/internal/ui"
	"github.com/forcegage-pvm/braven-extension/internal/workout"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, config.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "braven-trainer: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	logs, err := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Stderr:     cfg.Headless,
	})
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Logger
	logger.Printf("braven-trainer starting (mock=%v headless=%v dashboard=%v)", cfg.Mock, cfg.Headless, cfg.Dashboard.Enabled)

	workouts := workout.Builtin()
	if cfg.Workout.File != "" {
		extra, err := workout.LoadFile(cfg.Workout.File)
		if err != nil {
			return err
		}
		workouts = append(workouts, extra...)
		logger.Printf("Loaded %d workouts from %s", len(extra), cfg.Workout.File)
	}

	var radio bt.Radio
	var mock *bt.MockRadio
	if cfg.Mock {
		mock = bt.NewMockRadio(logger, bt.MockRadioConfig{
			Trainers:            bt.DefaultMockTrainers,
			Latency:             20 * time.Millisecond,
			ReadvertiseInterval: 2 * time.Second,
		})
		defer mock.Shutdown()
		radio = mock
	} else {
		manager := bt.NewBTManager(bluetooth.DefaultAdapter, logger)
		defer manager.Shutdown()
		radio = manager
	}

	controller := trainer.NewController(radio, logger, trainer.Options{
		ScanTimeout:    cfg.ScanTimeout,
		StartOnControl: cfg.Trainer.StartOnControl,
	})
	defer controller.Destroy()

	runner := workout.NewRunner(controller, logger, cfg.Workout.Tick)
	runner.SetFTP(cfg.Workout.FTP)
	runner.FollowTrainer(controller)
	defer runner.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Dashboard.Enabled {
		server := dashboard.NewServer(controller, logger)
		if mock != nil {
			server.Handle("/mock/", http.StripPrefix("/mock", mock.Handler()))
		}
		server.ForwardWorkout(ctx, runner)
		go_func_utils.SafeGo(logger, func() {
			if err := server.ListenAndServe(ctx, cfg.Dashboard.Listen); err != nil {
				logger.Printf("Dashboard: %v", err)
			}
		})
	}

	if cfg.Headless {
		logger.Printf("Running headless, press Ctrl+C to exit")
		<-ctx.Done()
		logger.Printf("Shutting down")
		return nil
	}

	prefs := ui.NewPreferences(config.StateDir(), logger)
	uiController := ui.NewController(controller, runner, prefs, workouts, logger, ui.ControllerOptions{
		PowerStep:   cfg.Trainer.PowerStep,
		AutoConnect: cfg.Trainer.AutoConnect,
	})
	view := ui.NewView(uiController, controller, runner, logger)
	fileOut := logger.Writer()
	logger.SetOutput(io.MultiWriter(fileOut, view))
	defer logger.SetOutput(fileOut)

	uiController.Start()
	defer uiController.Close()

	go_func_utils.SafeGo(logger, func() {
		<-ctx.Done()
		view.Stop()
	})
	return view.Run()
}

var (
	_ workout.PowerTarget         = (*trainer.Controller)(nil)
	_ workout.TrainerStatusSource = (*trainer.Controller)(nil)
	_ dashboard.TrainerControl    = (*trainer.Controller)(nil)
	_ ui.Trainer                  = (*trainer.Controller)(nil)
	_ ui.WorkoutRunner            = (*workout.Runner)(nil)
	_ dashboard.WorkoutSource     = (*workout.Runner)(nil)
)
