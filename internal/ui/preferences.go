package ui

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
)

const preferencesFile = "ui_state.json"

type preferencesData struct {
	LastTrainerAddress string `json:"last_trainer_address"`
	LastTrainerName    string `json:"last_trainer_name,omitempty"`
	LastWorkout        string `json:"last_workout,omitempty"`
}

// Preferences persists UI choices between runs.
type Preferences struct {
	mu       sync.Mutex
	filePath string
	data     preferencesData
	logger   *log.Logger
}

// NewPreferences loads dir/ui_state.json. A missing or unreadable file
// yields empty preferences.
func NewPreferences(dir string, logger *log.Logger) *Preferences {
	if logger == nil {
		panic("Preferences: logger cannot be nil")
	}
	p := &Preferences{
		filePath: filepath.Join(dir, preferencesFile),
		logger:   logger,
	}
	p.load()
	return p
}

func (p *Preferences) LastTrainer() (address, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.LastTrainerAddress, p.data.LastTrainerName
}

func (p *Preferences) SetLastTrainer(address, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data.LastTrainerAddress == address && p.data.LastTrainerName == name {
		return
	}
	p.data.LastTrainerAddress = address
	p.data.LastTrainerName = name
	p.saveLocked()
}

func (p *Preferences) LastWorkout() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.LastWorkout
}

func (p *Preferences) SetLastWorkout(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data.LastWorkout == name {
		return
	}
	p.data.LastWorkout = name
	p.saveLocked()
}

func (p *Preferences) load() {
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("Preferences: no saved state at %s", p.filePath)
		return
	}
	var data preferencesData
	if err := json.Unmarshal(raw, &data); err != nil {
		p.logger.Printf("Preferences: failed to parse %s: %v", p.filePath, err)
		return
	}
	p.data = data
	p.logger.Printf("Preferences: loaded %s (last trainer %q)", p.filePath, data.LastTrainerAddress)
}

func (p *Preferences) saveLocked() {
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0o755); err != nil {
		p.logger.Printf("Preferences: mkdir failed: %v", err)
		return
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		p.logger.Printf("Preferences: marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0o644); err != nil {
		p.logger.Printf("Preferences: write %s failed: %v", p.filePath, err)
	}
}
