package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cell-arena/internal/config"
	"cell-arena/internal/game/arena"
	"cell-arena/internal/game/leaderboard"
	"cell-arena/internal/game/spatial"
	"cell-arena/internal/game/worker"
)

// ErrUnknownUser is returned for actions on a user that is not connected.
var ErrUnknownUser = errors.New("unknown user")

// Phase is the tick coordinator state.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseCollisionDetect
	PhaseClassify
	PhaseApplyEffects
	PhaseMove
	PhaseMaintain
	PhaseReset
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCollisionDetect:
		return "collision_detect"
	case PhaseClassify:
		return "classify"
	case PhaseApplyEffects:
		return "apply_effects"
	case PhaseMove:
		return "move"
	case PhaseMaintain:
		return "maintain"
	case PhaseReset:
		return "reset"
	}
	return "unknown"
}

// World owns every entity and runs the tick phases. It is driven by a single
// goroutine (the Engine loop, or a test); only the parallel phases fan out to
// the worker pool.
type World struct {
	cfg   *config.Config
	log   *zap.Logger
	arena *arena.Arena
	pool  *worker.Pool
	rng   *rand.Rand

	players map[uuid.UUID]*Cell
	viruses map[uuid.UUID]*Cell
	food    map[uuid.UUID]*Cell
	masses  map[uuid.UUID]*Cell
	users   map[uuid.UUID]*User

	// collidable is the sweep input; collidableIdx maps a cell to its position.
	collidable    []*Cell
	collidableIdx map[*Cell]int
	staged        []*Cell

	excluded  [arena.NumCategories][arena.NumCategories]bool
	sweep     *spatial.SweepLine
	placement *spatial.SweepLine
	bodies    []spatial.Body
	pairs     [][2]*Cell

	board  *leaderboard.Board
	killed []uuid.UUID
	deaths []DeathEvent

	tick   uint64
	parity uint8
	phase  Phase

	circle arena.CircleView
	moving arena.MovingView
	player arena.PlayerView
	user   arena.UserView
	lock   arena.Mutex

	// reap is the lock handle used by remove, so that removal can run while
	// lock is held on another slot.
	reap arena.Mutex
}

// NewWorld builds the arena and worker pool described by cfg.
func NewWorld(cfg *config.Config, log *zap.Logger) (*World, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := cfg.Partitions
	a, err := arena.New(arena.Layout{
		arena.Player: {Count: p.Player.Count, Size: p.Player.Size},
		arena.Virus:  {Count: p.Virus.Count, Size: p.Virus.Size},
		arena.Food:   {Count: p.Food.Count, Size: p.Food.Size},
		arena.Mass:   {Count: p.Mass.Count, Size: p.Mass.Size},
		arena.User:   {Count: p.User.Count, Size: p.User.Size},
	})
	if err != nil {
		return nil, fmt.Errorf("build arena: %w", err)
	}

	w := &World{
		cfg:           cfg,
		log:           log.Named("world"),
		arena:         a,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		players:       make(map[uuid.UUID]*Cell),
		viruses:       make(map[uuid.UUID]*Cell),
		food:          make(map[uuid.UUID]*Cell),
		masses:        make(map[uuid.UUID]*Cell),
		users:         make(map[uuid.UUID]*User),
		collidableIdx: make(map[*Cell]int),
		sweep:         spatial.NewSweepLine(p.Player.Count + p.Food.Count + p.Virus.Count + p.Mass.Count),
		placement:     spatial.NewSweepLine(p.Player.Count + p.Virus.Count),
		board:         leaderboard.New(time.Now().UnixNano()),
		circle:        arena.NewCircleView(a),
		moving:        arena.NewMovingView(a),
		player:        arena.NewPlayerView(a),
		user:          arena.NewUserView(a),
	}
	for _, pair := range cfg.Collision.Exclude {
		x, err := arena.ParseCategory(pair[0])
		if err != nil {
			return nil, fmt.Errorf("collision exclude: %w", err)
		}
		y, err := arena.ParseCategory(pair[1])
		if err != nil {
			return nil, fmt.Errorf("collision exclude: %w", err)
		}
		w.excluded[x][y] = true
		w.excluded[y][x] = true
	}

	w.pool = worker.NewPool(cfg.Workers.WorkerCount(), worker.Env{
		Arena:      a,
		Rules:      cfg.Rules,
		Width:      cfg.World.Width,
		Height:     cfg.World.Height,
		TickMillis: float64(cfg.World.TickInterval) / float64(time.Millisecond),
	}, log)
	w.pool.OnTimeout = workerTimeouts.Inc
	// Placement bodies come from map iteration; there is no order to reuse.
	w.placement.SetInsertionSort(false)

	return w, nil
}

// Seed makes spawn positions and split angles reproducible.
func (w *World) Seed(seed int64) { w.rng.Seed(seed) }

// Close stops the worker pool.
func (w *World) Close() { w.pool.Close() }

// Phase returns the current coordinator state.
func (w *World) Phase() Phase { return w.phase }

// Tick returns the number of completed steps.
func (w *World) Tick() uint64 { return w.tick }

// Arena exposes slot storage for read-only inspection.
func (w *World) Arena() *arena.Arena { return w.arena }

func (w *World) Players() map[uuid.UUID]*Cell { return w.players }
func (w *World) Viruses() map[uuid.UUID]*Cell { return w.viruses }
func (w *World) Food() map[uuid.UUID]*Cell    { return w.food }
func (w *World) Masses() map[uuid.UUID]*Cell  { return w.masses }
func (w *World) Users() map[uuid.UUID]*User   { return w.users }
func (w *World) Collidable() []*Cell          { return w.collidable }

// Killed lists ids removed since the last Reset, including removals made
// by actions applied between ticks.
func (w *World) Killed() []uuid.UUID { return w.killed }

// DrainDeaths returns and clears the queued death events.
func (w *World) DrainDeaths() []DeathEvent {
	d := w.deaths
	w.deaths = nil
	return d
}

// Step runs one tick through every phase except Reset. dt is the elapsed
// time as a fraction of the nominal tick interval.
func (w *World) Step(ctx context.Context, dt float64) error {
	start := time.Now()
	w.tick++
	w.parity ^= 1

	timeout := w.cfg.Workers.TaskTimeout
	var stepErr error

	// Collision detection
	w.phase = PhaseCollisionDetect
	t := time.Now()
	w.detect()
	collisionPairs.Observe(float64(len(w.pairs)))
	observePhase(PhaseCollisionDetect, t)

	// Parallel classification
	w.phase = PhaseClassify
	t = time.Now()
	tasks := make([]worker.Task, len(w.pairs))
	for i, pc := range w.pairs {
		tasks[i] = worker.CollideTask{Pair: i, Larger: pc[0].Slot, Smaller: pc[1].Slot, DeltaTime: dt}
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	results, err := w.pool.MassAssign(cctx, tasks)
	cancel()
	if err != nil {
		w.log.Error("classification incomplete", zap.Uint64("tick", w.tick), zap.Error(err))
		stepErr = err
	}
	observePhase(PhaseClassify, t)

	// Sequential effect application
	w.phase = PhaseApplyEffects
	t = time.Now()
	w.applyEffects(results)
	w.drift(dt)
	observePhase(PhaseApplyEffects, t)

	// Parallel movement
	w.phase = PhaseMove
	t = time.Now()
	mctx, cancel := context.WithTimeout(ctx, timeout)
	_, err = w.pool.AssignAll(mctx, worker.MoveTask{Parity: w.parity, DeltaTime: dt})
	cancel()
	if err != nil {
		w.log.Error("movement incomplete", zap.Uint64("tick", w.tick), zap.Error(err))
		stepErr = errors.Join(stepErr, err)
	}
	observePhase(PhaseMove, t)

	// Population maintenance
	w.phase = PhaseMaintain
	t = time.Now()
	w.finishLeaving()
	w.updateUsers()
	w.replenish()
	w.placeStaged()
	observePhase(PhaseMaintain, t)

	w.phase = PhaseIdle
	w.recordCounts()
	tickDuration.Observe(time.Since(start).Seconds())
	return stepErr
}

// Reset clears the dirty flag of every entity and the killed list. Run it
// after the tick's changes have been published.
func (w *World) Reset() {
	w.phase = PhaseReset
	w.killed = w.killed[:0]
	clearAll := func(m map[uuid.UUID]*Cell) {
		for _, c := range m {
			w.circle.Bind(c.Slot)
			w.circle.ClearDirty()
		}
	}
	clearAll(w.players)
	clearAll(w.viruses)
	clearAll(w.food)
	clearAll(w.masses)
	for _, u := range w.users {
		w.user.Bind(u.Slot)
		w.user.ClearDirty()
	}
	w.phase = PhaseIdle
}

func (w *World) detect() {
	w.bodies = w.bodies[:0]
	for _, c := range w.collidable {
		w.circle.Bind(c.Slot)
		w.bodies = append(w.bodies, spatial.Body{X: w.circle.X(), Y: w.circle.Y(), R: w.circle.Radius()})
	}
	found := w.sweep.Detect(w.bodies, func(a, b int) bool {
		return w.excluded[w.collidable[a].Kind][w.collidable[b].Kind]
	})
	// Effects refer to cells, not indices: kills reshuffle collidable.
	w.pairs = w.pairs[:0]
	for _, p := range found {
		w.pairs = append(w.pairs, [2]*Cell{w.collidable[p.Larger], w.collidable[p.Smaller]})
	}
}

// table returns the lookup table for a circle category.
func (w *World) table(c arena.Category) map[uuid.UUID]*Cell {
	switch c {
	case arena.Player:
		return w.players
	case arena.Virus:
		return w.viruses
	case arena.Food:
		return w.food
	case arena.Mass:
		return w.masses
	}
	return nil
}

func (w *World) addCollidable(c *Cell) {
	w.sweep.Invalidate()
	w.collidableIdx[c] = len(w.collidable)
	w.collidable = append(w.collidable, c)
}

func (w *World) removeCollidable(c *Cell) {
	i, ok := w.collidableIdx[c]
	if !ok {
		return
	}
	w.sweep.Invalidate()
	last := len(w.collidable) - 1
	if i != last {
		moved := w.collidable[last]
		w.collidable[i] = moved
		w.collidableIdx[moved] = i
	}
	w.collidable[last] = nil
	w.collidable = w.collidable[:last]
	delete(w.collidableIdx, c)
}

// spawn allocates and registers a circle. Viruses are staged until a
// placement pass finds them clear of players.
func (w *World) spawn(kind arena.Category, x, y, mass float64, colour string) (*Cell, error) {
	slot, err := w.arena.Allocate(kind)
	if err != nil {
		recordAllocationFailure(kind)
		return nil, err
	}
	c := &Cell{
		ID:     uuid.New(),
		Kind:   kind,
		Slot:   slot,
		Colour: colour,
		alive:  true,
	}
	w.circle.Bind(slot)
	w.circle.SetPosition(w.clampX(x), w.clampY(y))
	w.circle.SetMass(mass)

	w.table(kind)[c.ID] = c
	if kind == arena.Virus {
		c.staged = true
		w.staged = append(w.staged, c)
	} else {
		w.addCollidable(c)
	}
	return c, nil
}

// remove is idempotent. The slot goes back to its free list before the id
// leaves the tables. It reports false, leaving c in place, when c's slot lock
// cannot be taken.
func (w *World) remove(c *Cell) bool {
	if !c.alive {
		return true
	}
	if !w.hold(&w.reap, c.Slot) {
		return false
	}
	c.alive = false
	if err := w.arena.Deallocate(c.Slot); err != nil {
		w.log.Error("deallocate live cell", zap.Stringer("slot", c.Slot), zap.Error(err))
	}
	w.reap.Unlock()
	delete(w.table(c.Kind), c.ID)
	if c.staged {
		for i, s := range w.staged {
			if s == c {
				w.staged = append(w.staged[:i], w.staged[i+1:]...)
				break
			}
		}
	} else {
		w.removeCollidable(c)
	}
	w.killed = append(w.killed, c.ID)

	if u := c.Owner; u != nil {
		delete(u.Players, c.ID)
		if len(u.Players) == 0 {
			if !u.leaving {
				w.deaths = append(w.deaths, DeathEvent{UserID: u.ID, Name: u.Name, Tick: w.tick})
				deathsTotal.Inc()
				w.log.Info("user died", zap.String("user", u.ID.String()), zap.String("name", u.Name))
			}
			w.dropUser(u)
		}
	}
	return true
}

// hold takes the lock on s through m, giving up after the configured lock
// timeout. A lock that stays held belongs to a retired worker still running
// its task; the caller skips the slot for this tick.
func (w *World) hold(m *arena.Mutex, s arena.Slot) bool {
	m.Bind(w.arena, s)
	if m.LockTimeout(w.cfg.Workers.LockTimeout) {
		return true
	}
	lockSkips.Inc()
	w.log.Warn("slot lock still held, skipped",
		zap.Stringer("slot", s),
		zap.Uint64("tick", w.tick),
	)
	return false
}

func (w *World) clampX(x float64) float64 { return clamp(x, 0, w.cfg.World.Width) }
func (w *World) clampY(y float64) float64 { return clamp(y, 0, w.cfg.World.Height) }

func (w *World) randomPosition() (float64, float64) {
	return w.rng.Float64() * w.cfg.World.Width, w.rng.Float64() * w.cfg.World.Height
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
