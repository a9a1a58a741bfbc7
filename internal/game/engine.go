package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cell-arena/internal/game/leaderboard"
	"cell-arena/internal/game/spatial"
)

var (
	// ErrQueueFull is returned when the input queue cannot take a command.
	ErrQueueFull = errors.New("input queue full")
	// ErrStopped is returned by Connect once the engine has stopped.
	ErrStopped = errors.New("engine stopped")
)

const (
	inboxSize       = 4096
	deathBuffer     = 256
	subscriberQueue = 8
	overviewEvery   = 20
	boardDepth      = 100
)

type commandKind uint8

const (
	cmdConnect commandKind = iota
	cmdDisconnect
	cmdTarget
	cmdSplit
	cmdEject
)

type command struct {
	kind  commandKind
	user  uuid.UUID
	name  string
	x, y  float64
	reply chan joinResult
}

type joinResult struct {
	welcome Welcome
	err     error
}

// Welcome is handed to a newly connected user: its id and the full world.
type Welcome struct {
	UserID uuid.UUID
	State  *Snapshot
}

// Engine runs World on a fixed cadence. Network goroutines talk to it only
// through the input queue and read the published snapshots.
type Engine struct {
	world    *World
	log      *zap.Logger
	interval time.Duration
	maxDelta float64

	inbox    *spatial.Queue[command]
	cmdBuf   []command
	snapshot atomic.Pointer[Snapshot]
	overview atomic.Pointer[[]CellState]
	board    atomic.Pointer[[]leaderboard.Standing]
	deaths   chan DeathEvent
	journal  *Journal

	subMu       sync.Mutex
	subscribers map[int]chan *Snapshot
	nextSub     int

	mu       sync.Mutex
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	done     chan struct{}
	last     time.Time
}

// NewEngine wraps w. The engine owns w from here on.
func NewEngine(w *World, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		world:       w,
		log:         log.Named("engine"),
		interval:    w.cfg.World.TickInterval,
		maxDelta:    w.cfg.World.MaxDelta,
		inbox:       spatial.NewQueue[command](inboxSize),
		cmdBuf:      make([]command, inboxSize),
		deaths:      make(chan DeathEvent, deathBuffer),
		journal:     NewJournal(w.cfg.Journal.Path, w.cfg.Journal.EventsPerSecond),
		subscribers: make(map[int]chan *Snapshot),
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	e.snapshot.Store(w.FullState())
	ov := w.Overview()
	e.overview.Store(&ov)
	top := w.Leaderboard(boardDepth)
	e.board.Store(&top)
	return e
}

// Start begins the tick loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.last = time.Now()
	e.ticker = time.NewTicker(e.interval)
	e.mu.Unlock()

	if err := e.journal.Start(); err != nil {
		e.log.Warn("journal file unavailable, keeping counts only", zap.String("path", e.world.cfg.Journal.Path), zap.Error(err))
	}

	go func() {
		defer close(e.done)
		for {
			select {
			case now := <-e.ticker.C:
				e.tick(now)
			case <-e.stopChan:
				return
			}
		}
	}()

	e.log.Info("engine started",
		zap.Duration("interval", e.interval),
		zap.Int("workers", e.world.pool.Size()),
	)
}

// Stop halts the tick loop and the worker pool. It waits for the running
// tick to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stopChan)
	e.mu.Unlock()

	<-e.done
	e.world.Close()
	e.journal.Stop()
	e.log.Info("engine stopped",
		zap.Uint64("tick", e.world.Tick()),
		zap.Uint64("journal_entries", e.journal.Stats()["total"]),
	)
}

func (e *Engine) tick(now time.Time) {
	dt := float64(now.Sub(e.last)) / float64(e.interval)
	e.last = now
	e.RunTick(context.Background(), clamp(dt, 0, e.maxDelta))
}

// RunTick applies queued commands, steps the world and publishes the
// result. The loop calls it on every tick; tests call it directly.
func (e *Engine) RunTick(ctx context.Context, dt float64) {
	e.drainInbox()

	if err := e.world.Step(ctx, dt); err != nil {
		e.log.Warn("tick completed with errors", zap.Uint64("tick", e.world.Tick()), zap.Error(err))
	}

	snap := e.world.Snapshot()
	e.snapshot.Store(snap)
	if e.world.Tick()%overviewEvery == 0 {
		ov := e.world.Overview()
		e.overview.Store(&ov)
	}
	top := e.world.Leaderboard(boardDepth)
	e.board.Store(&top)
	e.publish(snap)

	tick := e.world.Tick()
	if tick%journalTickEvery == 0 {
		e.journal.Emit(JournalTick, tick, "", TickPayload{Counts: snap.Counts, Users: len(e.world.users)})
	}
	for _, d := range e.world.DrainDeaths() {
		e.journal.Emit(JournalDeath, tick, d.UserID.String(), DeathPayload{Name: d.Name})
		select {
		case e.deaths <- d:
		default:
			e.log.Warn("death event dropped", zap.String("user", d.UserID.String()))
		}
	}

	e.world.Reset()
}

func (e *Engine) drainInbox() {
	n := e.inbox.DrainTo(e.cmdBuf)
	for i := 0; i < n; i++ {
		cmd := e.cmdBuf[i]
		e.cmdBuf[i] = command{}

		var err error
		switch cmd.kind {
		case cmdConnect:
			u, cerr := e.world.Connect(cmd.name)
			res := joinResult{err: cerr}
			if cerr == nil {
				res.welcome = Welcome{UserID: u.ID, State: e.world.FullState()}
				e.journal.Emit(JournalJoin, e.world.Tick(), u.ID.String(), JoinPayload{Name: u.Name, Colour: u.Colour})
			}
			cmd.reply <- res
		case cmdDisconnect:
			if err = e.world.Disconnect(cmd.user); err == nil {
				e.journal.Emit(JournalLeave, e.world.Tick(), cmd.user.String(), nil)
			}
		case cmdTarget:
			err = e.world.SetTarget(cmd.user, cmd.x, cmd.y)
		case cmdSplit:
			if err = e.world.Split(cmd.user); err == nil {
				e.journal.Emit(JournalSplit, e.world.Tick(), cmd.user.String(), nil)
			}
		case cmdEject:
			if err = e.world.Eject(cmd.user); err == nil {
				e.journal.Emit(JournalEject, e.world.Tick(), cmd.user.String(), nil)
			}
		}
		// Commands can race a death; the user is simply gone.
		if err != nil && !errors.Is(err, ErrUnknownUser) {
			e.log.Warn("command failed", zap.String("user", cmd.user.String()), zap.Error(err))
		}
	}
}

func (e *Engine) publish(s *Snapshot) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subscribers {
		select {
		case ch <- s:
		default:
			e.log.Warn("subscriber lagging, snapshot dropped", zap.Int("subscriber", id))
		}
	}
}

// Connect joins a new user and waits for the tick loop to admit it.
func (e *Engine) Connect(ctx context.Context, name string) (Welcome, error) {
	reply := make(chan joinResult, 1)
	if !e.inbox.TryPush(command{kind: cmdConnect, name: name, reply: reply}) {
		return Welcome{}, ErrQueueFull
	}
	select {
	case res := <-reply:
		return res.welcome, res.err
	case <-ctx.Done():
		go e.abandon(reply)
		return Welcome{}, ctx.Err()
	case <-e.stopChan:
		return Welcome{}, ErrStopped
	}
}

// abandon disconnects a user admitted after its caller gave up.
func (e *Engine) abandon(reply <-chan joinResult) {
	select {
	case res := <-reply:
		if res.err == nil {
			if err := e.Disconnect(res.welcome.UserID); err != nil {
				e.log.Warn("abandoned user not removed", zap.String("user", res.welcome.UserID.String()), zap.Error(err))
			}
		}
	case <-e.stopChan:
	}
}

// Disconnect removes a user on the next tick.
func (e *Engine) Disconnect(id uuid.UUID) error {
	return e.push(command{kind: cmdDisconnect, user: id})
}

// SetTarget moves a user's target on the next tick.
func (e *Engine) SetTarget(id uuid.UUID, x, y float64) error {
	return e.push(command{kind: cmdTarget, user: id, x: x, y: y})
}

// Split splits a user's cells on the next tick.
func (e *Engine) Split(id uuid.UUID) error {
	return e.push(command{kind: cmdSplit, user: id})
}

// Eject fires mass from a user's cells on the next tick.
func (e *Engine) Eject(id uuid.UUID) error {
	return e.push(command{kind: cmdEject, user: id})
}

func (e *Engine) push(cmd command) error {
	if !e.inbox.TryPush(cmd) {
		return ErrQueueFull
	}
	return nil
}

// Snapshot returns the last published tick.
func (e *Engine) Snapshot() *Snapshot { return e.snapshot.Load() }

// Overview returns every player and virus as of the last overview tick.
func (e *Engine) Overview() []CellState { return *e.overview.Load() }

// Leaderboard returns up to n rows of the last published ranking.
func (e *Engine) Leaderboard(n int) []leaderboard.Standing {
	top := *e.board.Load()
	if n < len(top) {
		top = top[:n]
	}
	return top
}

// Deaths delivers users whose last cell was eaten.
func (e *Engine) Deaths() <-chan DeathEvent { return e.deaths }

// Subscribe returns a channel receiving every published snapshot and a
// function to stop the subscription. Slow subscribers miss snapshots.
func (e *Engine) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, subscriberQueue)
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = ch
	e.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subscribers, id)
			e.subMu.Unlock()
		})
	}
}
