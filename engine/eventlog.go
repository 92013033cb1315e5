package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lucaswhitaker22/specracer/model"
)

// EventJournal appends race events to a per-race JSONL file so a race's
// full history survives process restarts and can be replayed offline.
type EventJournal struct {
	path string
	mu   sync.Mutex
}

// NewEventJournal creates a journal for one race under dir. The file is
// created on first write.
func NewEventJournal(dir, raceID string) (*EventJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &EventJournal{path: filepath.Join(dir, raceID+".jsonl")}, nil
}

// Path returns the journal file location.
func (j *EventJournal) Path() string {
	return j.path
}

// Write appends one event. Each call opens, appends, and closes so a
// crash never loses more than the in-flight line.
func (j *EventJournal) Write(ev model.RaceEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(ev)
}

// Remove deletes the journal file. Called during post-race cleanup.
func (j *EventJournal) Remove() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := os.Remove(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ReadJournal reads all events from a JSONL journal file. Malformed
// lines are skipped; a missing file yields an empty slice.
func ReadJournal(path string) ([]model.RaceEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []model.RaceEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line limit
	for scanner.Scan() {
		var ev model.RaceEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}
