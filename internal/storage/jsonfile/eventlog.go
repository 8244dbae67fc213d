package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
)

const eventLogName = "events.log"

// DefaultEventLogMax is the record cap applied when the configuration leaves
// it unset.
const DefaultEventLogMax = 10000

// eventLog is an append-only JSON-lines log of connection events. When the
// record count reaches the cap, the file is rotated to a timestamped backup
// and a fresh log is started.
type eventLog struct {
	dir string
	max int

	mu    sync.Mutex
	file  *os.File
	count int
}

func newEventLog(dir string, max int) *eventLog {
	if max <= 0 {
		max = DefaultEventLogMax
	}
	return &eventLog{dir: dir, max: max}
}

func (l *eventLog) append(ev storage.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if err := l.open(); err != nil {
			return err
		}
	}
	if l.count >= l.max {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	l.count++
	return nil
}

// open opens the current log and counts existing records so the cap holds
// across restarts.
func (l *eventLog) open() error {
	path := filepath.Join(l.dir, eventLogName)

	count := 0
	if data, err := os.ReadFile(path); err == nil {
		for _, b := range data {
			if b == '\n' {
				count++
			}
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	l.file = file
	l.count = count
	return nil
}

// rotate moves the full log aside under a UTC timestamped name and starts a
// fresh one.
func (l *eventLog) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close event log: %w", err)
	}
	l.file = nil

	path := filepath.Join(l.dir, eventLogName)
	backup := filepath.Join(l.dir,
		fmt.Sprintf("events-%s.log", time.Now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(path, backup); err != nil {
		return fmt.Errorf("rotate event log: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen event log: %w", err)
	}
	l.file = file
	l.count = 0
	return nil
}

func (l *eventLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
