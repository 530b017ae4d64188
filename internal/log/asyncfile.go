// Package log provides the leveled, key-value logging used throughout the
// scheduler, plus the on-disk sink it can be pointed at.
package log

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "2006-01-02T15-04-05"

// AsyncFileWriter is a buffered, hourly-rotating log sink. Writes are
// queued on a channel and flushed by a single background goroutine so
// callers never block on disk I/O.
type AsyncFileWriter struct {
	filePath    string
	maxBackups  int
	rotateHours uint

	mu   sync.Mutex
	file *os.File

	queue  chan []byte
	done   chan struct{}
	ticker *time.Ticker
}

// NewAsyncFileWriter creates a writer for filePath. bufSize is the queue
// depth, maxBackups bounds how many rotated files are retained, and
// rotateHours controls how often rotation is considered.
func NewAsyncFileWriter(filePath string, bufSize int, maxBackups int, rotateHours uint) *AsyncFileWriter {
	if bufSize <= 0 {
		bufSize = 256
	}
	if rotateHours == 0 {
		rotateHours = 24
	}
	return &AsyncFileWriter{
		filePath:    filePath,
		maxBackups:  maxBackups,
		rotateHours: rotateHours,
		queue:       make(chan []byte, bufSize),
		done:        make(chan struct{}),
	}
}

// Start opens the underlying file and begins the background flush loop.
func (w *AsyncFileWriter) Start() error {
	if err := w.openFile(); err != nil {
		return err
	}
	next := getNextRotationHour(time.Now(), w.rotateHours)
	w.ticker = time.NewTicker(durationUntilHour(next))
	go w.loop()
	return nil
}

// Write enqueues a record for the background writer. It never blocks the
// caller for longer than it takes to enqueue.
func (w *AsyncFileWriter) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case w.queue <- cp:
	case <-w.done:
	}
	return len(p), nil
}

// Stop drains the queue and closes the file.
func (w *AsyncFileWriter) Stop() {
	close(w.done)
	if w.ticker != nil {
		w.ticker.Stop()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}

func (w *AsyncFileWriter) loop() {
	for {
		select {
		case rec := <-w.queue:
			w.mu.Lock()
			if w.file != nil {
				w.file.Write(rec)
			}
			w.mu.Unlock()
		case <-w.tickerChan():
			w.rotate()
		case <-w.done:
			// Flush whatever remains without blocking.
			for {
				select {
				case rec := <-w.queue:
					w.mu.Lock()
					if w.file != nil {
						w.file.Write(rec)
					}
					w.mu.Unlock()
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncFileWriter) tickerChan() <-chan time.Time {
	if w.ticker == nil {
		return nil
	}
	return w.ticker.C
}

func (w *AsyncFileWriter) openFile() error {
	if dir := filepath.Dir(w.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(w.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.file = f
	w.mu.Unlock()
	return nil
}

func (w *AsyncFileWriter) rotate() {
	w.mu.Lock()
	if w.file != nil {
		w.file.Close()
	}
	backup := w.filePath + "." + time.Now().Format(backupTimeFormat)
	os.Rename(w.filePath, backup)
	w.mu.Unlock()
	w.openFile()
	w.removeExpiredFile()
	next := getNextRotationHour(time.Now(), w.rotateHours)
	if w.ticker != nil {
		w.ticker.Reset(durationUntilHour(next))
	}
}

// getNextRotationHour returns the next hour-of-day, in [0,23], at which a
// rotation boundary spaced delta hours apart falls after now.
func getNextRotationHour(now time.Time, delta uint) int {
	if delta == 0 {
		delta = 1
	}
	hour := now.Hour()
	next := (hour/int(delta) + 1) * int(delta)
	return next % 24
}

func durationUntilHour(hour int) time.Duration {
	now := time.Now()
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}
	return target.Sub(now)
}

// getExpiredFile returns the path of the oldest backup past the retention
// window, or "" if none qualify.
func (w *AsyncFileWriter) getExpiredFile(filePath string, maxBackups int, rotateHours uint) string {
	backups := w.listBackups(filePath)
	if len(backups) <= maxBackups {
		return ""
	}
	return backups[0]
}

func (w *AsyncFileWriter) removeExpiredFile() {
	backups := w.listBackups(w.filePath)
	for len(backups) > w.maxBackups {
		os.Remove(backups[0])
		backups = backups[1:]
	}
}

func (w *AsyncFileWriter) listBackups(filePath string) []string {
	dir := filepath.Dir(filePath)
	if dir == "" {
		dir = "."
	}
	base := filepath.Base(filePath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var backups []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, base+".") {
			backups = append(backups, filepath.Join(dir, name))
		}
	}
	sort.Strings(backups)
	return backups
}
