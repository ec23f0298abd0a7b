package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/forcegage-pvm/braven-extension/internal/go_func_utils"
	"github.com/forcegage-pvm/braven-extension/internal/trainer"
	"github.com/forcegage-pvm/braven-extension/internal/workout"
)

// TrainerControl is the part of the trainer controller the dashboard drives.
type TrainerControl interface {
	Status() trainer.TrainerStatus
	ListenToStatus(ch chan<- trainer.TrainerStatus) func()
	StartScan()
	StopScan()
	Connect(address string)
	Disconnect()
	RequestControl()
	SetTargetPower(watts int)
	SetResistance(level float64)
	SetSimulation(p trainer.SimulationParams)
}

// Server exposes the controller over HTTP and pushes status changes to
// WebSocket clients.
type Server struct {
	control TrainerControl
	logger  *log.Logger
	hub     *Hub
	mux     *http.ServeMux
}

func NewServer(control TrainerControl, logger *log.Logger) *Server {
	if control == nil {
		panic("Server: control cannot be nil")
	}
	if logger == nil {
		panic("Server: logger cannot be nil")
	}

	s := &Server{
		control: control,
		logger:  logger,
		hub:     NewHub(logger),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/scan", s.handleScan)
	s.mux.HandleFunc("POST /api/scan/stop", s.handleStopScan)
	s.mux.HandleFunc("POST /api/connect", s.handleConnect)
	s.mux.HandleFunc("POST /api/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("POST /api/control", s.handleRequestControl)
	s.mux.HandleFunc("POST /api/power", s.handlePower)
	s.mux.HandleFunc("POST /api/resistance", s.handleResistance)
	s.mux.HandleFunc("POST /api/simulation", s.handleSimulation)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s
}

// Handle mounts an additional handler, e.g. the mock radio inspector.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the broadcast hub so other components can publish to clients.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub and the status forwarder until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	go_func_utils.SafeGo(s.logger, func() { s.hub.Run(ctx) })

	statusCh := make(chan trainer.TrainerStatus, 16)
	unregister := s.control.ListenToStatus(statusCh)
	go_func_utils.SafeGo(s.logger, func() {
		defer unregister()
		for {
			select {
			case <-ctx.Done():
				return
			case st := <-statusCh:
				s.hub.Broadcast("status", st)
			}
		}
	})
}

// WorkoutSource streams workout runner state.
type WorkoutSource interface {
	Listen(ch chan<- workout.State) func()
}

type workoutJSON struct {
	Status      string `json:"status"`
	Name        string `json:"name,omitempty"`
	Block       int    `json:"block"`
	Blocks      int    `json:"blocks"`
	ElapsedS    int    `json:"elapsed_s"`
	RemainingS  int    `json:"remaining_s"`
	TargetPower int    `json:"target_power"`
}

func workoutMessage(st workout.State) workoutJSON {
	msg := workoutJSON{
		Status:      st.Status.String(),
		Block:       st.BlockIndex + 1,
		ElapsedS:    int(st.Elapsed.Seconds()),
		RemainingS:  int(st.Remaining.Seconds()),
		TargetPower: st.TargetPowerWatts,
	}
	if st.Workout != nil {
		msg.Name = st.Workout.Name
		msg.Blocks = len(st.Workout.Blocks)
	}
	return msg
}

// ForwardWorkout broadcasts every runner state change as a "workout"
// message until ctx is cancelled.
func (s *Server) ForwardWorkout(ctx context.Context, src WorkoutSource) {
	ch := make(chan workout.State, 16)
	unregister := src.Listen(ch)
	go_func_utils.SafeGo(s.logger, func() {
		defer unregister()
		for {
			select {
			case <-ctx.Done():
				return
			case st := <-ch:
				s.hub.Broadcast("workout", workoutMessage(st))
			}
		}
	})
}

// ListenAndServe starts the hub and serves HTTP on addr until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.Start(ctx)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go_func_utils.SafeGo(s.logger, func() {
		s.logger.Printf("Dashboard: listening on %s", addr)
		errCh <- server.ListenAndServe()
	})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard shutdown failed: %w", err)
	}
	s.logger.Printf("Dashboard: stopped")
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.control.Status())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleConnection(w, r, &Message{Type: "status", Data: s.control.Status()})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	s.control.StartScan()
	accepted(w)
}

func (s *Server) handleStopScan(w http.ResponseWriter, r *http.Request) {
	s.control.StopScan()
	accepted(w)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		badRequest(w, "address is required")
		return
	}
	s.control.Connect(address)
	accepted(w)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.control.Disconnect()
	accepted(w)
}

func (s *Server) handleRequestControl(w http.ResponseWriter, r *http.Request) {
	s.control.RequestControl()
	accepted(w)
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Watts *int `json:"watts"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Watts == nil {
		badRequest(w, "watts is required")
		return
	}
	s.control.SetTargetPower(*req.Watts)
	accepted(w)
}

func (s *Server) handleResistance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level *float64 `json:"level"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Level == nil {
		badRequest(w, "level is required")
		return
	}
	s.control.SetResistance(*req.Level)
	accepted(w)
}

func (s *Server) handleSimulation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WindSpeed *float64 `json:"wind_speed"`
		Grade     *float64 `json:"grade"`
		Crr       *float64 `json:"crr"`
		Cw        *float64 `json:"cw"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	p := trainer.DefaultSimulationParams()
	if req.WindSpeed != nil {
		p.WindSpeed = *req.WindSpeed
	}
	if req.Grade != nil {
		p.Grade = *req.Grade
	}
	if req.Crr != nil {
		p.Crr = *req.Crr
	}
	if req.Cw != nil {
		p.Cw = *req.Cw
	}
	s.control.SetSimulation(p)
	accepted(w)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

func accepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
