package arena

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// MutexError is raised (as a panic) on a lock protocol violation. These are
// programming errors, never contention.
type MutexError struct {
	Op   string
	Slot Slot
}

func (e *MutexError) Error() string {
	switch e.Op {
	case "unlock":
		return fmt.Sprintf("mutex %s: unlock without holding the lock", e.Slot)
	case "bind":
		return fmt.Sprintf("mutex %s: rebind while holding the lock", e.Slot)
	default:
		return fmt.Sprintf("mutex %s: %s while already holding the lock", e.Slot, e.Op)
	}
}

// spins before LockWait starts sleeping between attempts
const lockSpins = 64

// Mutex is a handle on one slot's lock word. The word itself lives in the
// arena; the handle tracks whether this holder owns it. A handle is not safe
// for concurrent use, but any number of handles may target the same slot.
type Mutex struct {
	word *atomic.Int32
	slot Slot
	held bool
}

// Mutex returns a handle bound to s.
func (a *Arena) Mutex(s Slot) Mutex {
	return Mutex{word: &a.locks[a.Global(s)], slot: s}
}

// Bind retargets the handle at s.
func (m *Mutex) Bind(a *Arena, s Slot) {
	if m.held {
		panic(&MutexError{Op: "bind", Slot: m.slot})
	}
	m.word = &a.locks[a.Global(s)]
	m.slot = s
}

// Slot returns the slot the handle is bound to.
func (m *Mutex) Slot() Slot { return m.slot }

// Held reports whether this handle owns the lock.
func (m *Mutex) Held() bool { return m.held }

// TryLock takes the lock if it is free and reports whether it did.
func (m *Mutex) TryLock() bool {
	if m.held {
		panic(&MutexError{Op: "trylock", Slot: m.slot})
	}
	return m.try()
}

func (m *Mutex) try() bool {
	if m.word.Load() > 0 {
		return false
	}
	// Two racing increments both see >1 on one side; the loser backs out.
	if m.word.Add(1) > 1 {
		m.word.Add(-1)
		return false
	}
	m.held = true
	return true
}

// LockWait blocks until the lock is taken.
func (m *Mutex) LockWait() {
	if m.held {
		panic(&MutexError{Op: "lockwait", Slot: m.slot})
	}
	for i := 0; ; i++ {
		if m.try() {
			return
		}
		if i < lockSpins {
			runtime.Gosched()
		} else {
			time.Sleep(time.Microsecond)
		}
	}
}

// LockTimeout is LockWait bounded by d. It reports whether the lock was
// taken.
func (m *Mutex) LockTimeout(d time.Duration) bool {
	if m.held {
		panic(&MutexError{Op: "locktimeout", Slot: m.slot})
	}
	deadline := time.Now().Add(d)
	for i := 0; ; i++ {
		if m.try() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		if i < lockSpins {
			runtime.Gosched()
		} else {
			time.Sleep(time.Microsecond)
		}
	}
}

// Unlock releases the lock.
func (m *Mutex) Unlock() {
	if !m.held {
		panic(&MutexError{Op: "unlock", Slot: m.slot})
	}
	m.held = false
	m.word.Add(-1)
}

// LockPair takes both locks in ascending global order so that two holders
// locking the same pair from opposite ends cannot deadlock. first and second
// must target different slots.
func (a *Arena) LockPair(first, second *Mutex) {
	if a.Global(first.slot) > a.Global(second.slot) {
		first, second = second, first
	}
	first.LockWait()
	second.LockWait()
}
