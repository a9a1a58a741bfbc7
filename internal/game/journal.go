package game

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	journalBufferSize    = 1024
	journalFlushSize     = 64
	journalFlushInterval = 100 * time.Millisecond
	journalTickEvery     = 200
)

// JournalKind classifies a journal entry.
type JournalKind uint8

const (
	JournalUnknown JournalKind = iota
	JournalTick
	JournalJoin
	JournalLeave
	JournalDeath
	JournalSplit
	JournalEject
)

func (k JournalKind) String() string {
	switch k {
	case JournalTick:
		return "tick"
	case JournalJoin:
		return "join"
	case JournalLeave:
		return "leave"
	case JournalDeath:
		return "death"
	case JournalSplit:
		return "split"
	case JournalEject:
		return "eject"
	}
	return "unknown"
}

// MarshalText writes the kind by name so the file stays readable.
func (k JournalKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// JournalEntry is one line of the journal file.
type JournalEntry struct {
	Kind      JournalKind     `json:"kind"`
	Sequence  uint64          `json:"seq"`
	Timestamp int64           `json:"ts"`
	Tick      uint64          `json:"tick"`
	User      string          `json:"user,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// TickPayload summarises the population every journalTickEvery ticks.
type TickPayload struct {
	Counts map[string]int `json:"counts"`
	Users  int            `json:"users"`
}

// JoinPayload records a user's display name and colour.
type JoinPayload struct {
	Name   string `json:"name"`
	Colour string `json:"colour"`
}

// DeathPayload records who died.
type DeathPayload struct {
	Name string `json:"name"`
}

// Journal is a bounded append-only record of world events, flushed to a
// newline-delimited JSON file by a background writer. Emit is called only
// from the tick goroutine; the writer is the only consumer.
type Journal struct {
	buffer    [journalBufferSize]JournalEntry
	writeHead atomic.Uint64
	readHead  atomic.Uint64

	limiter *rate.Limiter

	path     string
	file     *os.File
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	total   atomic.Uint64
	dropped atomic.Uint64
}

// NewJournal creates a journal writing to path, admitting at most
// perSecond entries per second. An empty path keeps counts only.
func NewJournal(path string, perSecond int) *Journal {
	if perSecond <= 0 {
		perSecond = 1000
	}
	return &Journal{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), perSecond/10+1),
		path:     path,
		stopChan: make(chan struct{}),
	}
}

// Start opens the file and begins the writer. If the file cannot be
// opened the journal still runs and the error is returned.
func (j *Journal) Start() error {
	if j.running.Load() {
		return nil
	}
	var openErr error
	if j.path != "" {
		f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			openErr = err
		} else {
			j.file = f
		}
	}
	j.running.Store(true)
	j.wg.Add(1)
	go j.writerLoop()
	return openErr
}

// Stop flushes what is buffered and closes the file.
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		if !j.running.Load() {
			return
		}
		j.running.Store(false)
		close(j.stopChan)
		j.wg.Wait()
		if j.file != nil {
			j.file.Close()
		}
	})
}

// Emit appends an entry. It reports false when the entry was dropped
// because the journal is stopped, over its rate, or full.
func (j *Journal) Emit(kind JournalKind, tick uint64, user string, payload any) bool {
	if !j.running.Load() {
		return false
	}
	if !j.limiter.Allow() {
		j.dropped.Add(1)
		journalDropped.Inc()
		return false
	}

	head := j.writeHead.Load()
	if head-j.readHead.Load() >= journalBufferSize {
		j.dropped.Add(1)
		journalDropped.Inc()
		return false
	}

	e := JournalEntry{
		Kind:      kind,
		Sequence:  head,
		Timestamp: time.Now().UnixNano(),
		Tick:      tick,
		User:      user,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Payload = data
		}
	}
	j.buffer[head%journalBufferSize] = e
	// Publish after the slot is written.
	j.writeHead.Store(head + 1)
	j.total.Add(1)
	return true
}

func (j *Journal) writerLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(journalFlushInterval)
	defer ticker.Stop()

	batch := make([]JournalEntry, 0, journalFlushSize)
	for {
		select {
		case <-j.stopChan:
			for {
				batch = j.collect(batch[:0])
				if len(batch) == 0 {
					return
				}
				j.flush(batch)
			}
		case <-ticker.C:
			for {
				batch = j.collect(batch[:0])
				if len(batch) == 0 {
					break
				}
				j.flush(batch)
			}
		}
	}
}

func (j *Journal) collect(batch []JournalEntry) []JournalEntry {
	head := j.writeHead.Load()
	tail := j.readHead.Load()
	for i := tail; i < head && len(batch) < journalFlushSize; i++ {
		batch = append(batch, j.buffer[i%journalBufferSize])
	}
	if len(batch) > 0 {
		j.readHead.Add(uint64(len(batch)))
	}
	return batch
}

func (j *Journal) flush(batch []JournalEntry) {
	if j.file == nil {
		return
	}
	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		data = append(data, '\n')
		j.file.Write(data)
	}
}

// Stats returns emitted, dropped and pending entry counts.
func (j *Journal) Stats() map[string]uint64 {
	return map[string]uint64{
		"total":   j.total.Load(),
		"dropped": j.dropped.Load(),
		"pending": j.writeHead.Load() - j.readHead.Load(),
	}
}
