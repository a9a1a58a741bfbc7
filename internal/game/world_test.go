package game

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"cell-arena/internal/config"
	"cell-arena/internal/game/arena"
	"cell-arena/internal/game/worker"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.World.Width, cfg.World.Height = 1000, 1000
	cfg.World.MinFood = 0
	cfg.World.MinViruses = 0
	cfg.Workers.Count = 2
	return cfg
}

func newTestWorld(t testing.TB, cfg *config.Config) *World {
	t.Helper()
	w, err := NewWorld(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewWorld: %v", err)
	}
	w.Seed(1)
	t.Cleanup(w.Close)
	return w
}

// place spawns a circle and, for viruses, skips the placement pass.
func place(t testing.TB, w *World, kind arena.Category, x, y, mass float64) *Cell {
	t.Helper()
	c, err := w.spawn(kind, x, y, mass, "#ffffff")
	if err != nil {
		t.Fatalf("spawn %s: %v", kind, err)
	}
	if c.staged {
		w.staged = w.staged[:0]
		c.staged = false
		w.addCollidable(c)
	}
	return c
}

// join connects a user and moves its only cell to (x, y) with the given mass.
func join(t testing.TB, w *World, name string, x, y, mass float64) (*User, *Cell) {
	t.Helper()
	u, err := w.Connect(name)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var c *Cell
	for _, p := range u.Players {
		c = p
	}
	setCell(w, c, x, y, mass)
	w.user.Bind(u.Slot)
	w.user.SetTarget(x, y)
	return u, c
}

// sibling adds another player cell to u.
func sibling(t testing.TB, w *World, u *User, x, y, mass float64) *Cell {
	t.Helper()
	slot, err := w.arena.Allocate(arena.Player)
	if err != nil {
		t.Fatalf("allocate sibling: %v", err)
	}
	c := &Cell{ID: uuid.New(), Kind: arena.Player, Slot: slot, Colour: u.Colour, Owner: u, alive: true}
	setCell(w, c, x, y, mass)
	w.player.SetOwner(u.Slot.Index)
	w.players[c.ID] = c
	u.Players[c.ID] = c
	w.addCollidable(c)
	return c
}

func setCell(w *World, c *Cell, x, y, mass float64) {
	w.player.Bind(c.Slot)
	w.player.SetPosition(x, y)
	w.player.SetMass(mass)
}

func massOf(w *World, c *Cell) float64 {
	w.circle.Bind(c.Slot)
	return w.circle.Mass()
}

// resolve runs detection, classification and effect application.
func resolve(t testing.TB, w *World) {
	t.Helper()
	w.detect()
	tasks := make([]worker.Task, len(w.pairs))
	for i, pc := range w.pairs {
		tasks[i] = worker.CollideTask{Pair: i, Larger: pc[0].Slot, Smaller: pc[1].Slot, DeltaTime: 1}
	}
	results, err := w.pool.MassAssign(context.Background(), tasks)
	if err != nil {
		t.Fatalf("MassAssign: %v", err)
	}
	w.applyEffects(results)
}

func TestScenarioA_PlayerEatsFood(t *testing.T) {
	w := newTestWorld(t, testConfig())
	_, p := join(t, w, "a", 500, 500, 900)
	food := place(t, w, arena.Food, 505, 500, 1)
	slot := food.Slot

	resolve(t, w)

	if got := massOf(w, p); got != 901 {
		t.Errorf("player mass = %v, want 901", got)
	}
	if _, ok := w.Food()[food.ID]; ok {
		t.Error("food still in table")
	}
	if food.Alive() {
		t.Error("food still alive")
	}
	if len(w.Killed()) != 1 || w.Killed()[0] != food.ID {
		t.Errorf("killed = %v, want [%s]", w.Killed(), food.ID)
	}
	next, err := w.Arena().NextFree(arena.Food)
	if err != nil || next != slot {
		t.Errorf("next free food slot = %v (%v), want %v", next, err, slot)
	}
}

func TestScenarioB_SiblingsMerge(t *testing.T) {
	w := newTestWorld(t, testConfig())
	u, big := join(t, w, "b", 500, 500, 120)
	small := sibling(t, w, u, 500, 500, 100)

	resolve(t, w)

	if small.Alive() {
		t.Error("smaller sibling survived the merge")
	}
	if got := massOf(w, big); got != 220 {
		t.Errorf("merged mass = %v, want 220", got)
	}
	if len(u.Players) != 1 {
		t.Errorf("siblings = %d, want 1", len(u.Players))
	}
	if len(w.DrainDeaths()) != 0 {
		t.Error("merge produced a death event")
	}
}

func TestScenarioC_VirusAtSiblingCapClamps(t *testing.T) {
	cfg := testConfig()
	w := newTestWorld(t, cfg)
	u, big := join(t, w, "c", 500, 500, 11200)
	for i := 1; i < cfg.Rules.MaxSiblings; i++ {
		sibling(t, w, u, float64(40+i*50), 950, 10)
	}
	if len(u.Players) != cfg.Rules.MaxSiblings {
		t.Fatalf("siblings = %d, want %d", len(u.Players), cfg.Rules.MaxSiblings)
	}
	virus := place(t, w, arena.Virus, 500, 500, cfg.Rules.VirusMass)

	resolve(t, w)

	if virus.Alive() {
		t.Fatal("virus was not eaten")
	}
	if got := massOf(w, big); got != cfg.Rules.SplitCeiling {
		t.Errorf("mass = %v, want clamp to %v", got, cfg.Rules.SplitCeiling)
	}
	if len(u.Players) != cfg.Rules.MaxSiblings {
		t.Errorf("siblings = %d, want %d", len(u.Players), cfg.Rules.MaxSiblings)
	}
}

func TestVirusSplitsEater(t *testing.T) {
	cfg := testConfig()
	w := newTestWorld(t, cfg)
	u, _ := join(t, w, "v", 500, 500, 1000)
	place(t, w, arena.Virus, 500, 500, cfg.Rules.VirusMass)

	resolve(t, w)

	if len(u.Players) < 2 {
		t.Fatalf("siblings = %d, want a burst", len(u.Players))
	}
	if len(u.Players) > cfg.Rules.MaxSiblings {
		t.Fatalf("siblings = %d exceeds cap", len(u.Players))
	}
	total := 0.0
	for _, c := range u.Players {
		total += massOf(w, c)
	}
	if math.Abs(total-1100) > 1e-3 {
		t.Errorf("total mass after burst = %v, want 1100", total)
	}
}

func TestVirusBurstKeepsToEater(t *testing.T) {
	cfg := testConfig()
	w := newTestWorld(t, cfg)
	u, eater := join(t, w, "v", 200, 200, 300)
	far := sibling(t, w, u, 800, 800, 5000)
	place(t, w, arena.Virus, 200, 200, cfg.Rules.VirusMass)

	resolve(t, w)

	if got := massOf(w, far); got != 5000 {
		t.Errorf("untouched sibling mass = %v, want 5000", got)
	}
	if got := massOf(w, eater); got >= 400 {
		t.Errorf("eater mass = %v, want it split below 400", got)
	}
	if len(u.Players) < 3 || len(u.Players) > cfg.Rules.MaxSiblings {
		t.Fatalf("siblings = %d", len(u.Players))
	}
	burst := 0.0
	for _, c := range u.Players {
		if c != far {
			burst += massOf(w, c)
		}
	}
	if math.Abs(burst-400) > 1e-3 {
		t.Errorf("burst mass = %v, want 400", burst)
	}
}

func TestSplitWithRecoil(t *testing.T) {
	cfg := testConfig()
	w := newTestWorld(t, cfg)
	_, p := join(t, w, "r", 500, 500, 1000)

	child, err := w.splitWith(p, 1, 0, 12, cfg.Rules.VirusRecoil)
	if err != nil {
		t.Fatalf("splitWith: %v", err)
	}

	w.player.Bind(p.Slot)
	if vx, vy := w.player.Velocity(); math.Abs(vx+12*cfg.Rules.VirusRecoil) > 1e-4 || vy != 0 {
		t.Errorf("parent velocity = (%v, %v), want (%v, 0)", vx, vy, -12*cfg.Rules.VirusRecoil)
	}
	w.player.Bind(child.Slot)
	if vx, vy := w.player.Velocity(); math.Abs(vx-12) > 1e-4 || vy != 0 {
		t.Errorf("child velocity = (%v, %v), want (12, 0)", vx, vy)
	}
	if x := w.player.X(); x != 506 {
		t.Errorf("child x = %v, want 506", x)
	}
	if massOf(w, p) != 500 || massOf(w, child) != 500 {
		t.Errorf("halves = %v, %v", massOf(w, p), massOf(w, child))
	}
}

func TestScenarioD_ReplenishFood(t *testing.T) {
	cfg := testConfig()
	cfg.World.MinFood = 2560
	w := newTestWorld(t, cfg)
	for i := 0; i < 2000; i++ {
		place(t, w, arena.Food, float64(i%1000), float64(i/1000), 1)
	}

	w.replenish()

	if got := len(w.Food()); got != 2560 {
		t.Fatalf("food = %d, want 2560", got)
	}
	if got := w.Arena().Live(arena.Food); got != 2560 {
		t.Errorf("live food slots = %d, want 2560", got)
	}
	for _, c := range w.Food() {
		w.circle.Bind(c.Slot)
		x, y := w.circle.X(), w.circle.Y()
		if x < 0 || x > cfg.World.Width || y < 0 || y > cfg.World.Height {
			t.Fatalf("food out of bounds at (%v, %v)", x, y)
		}
	}
}

func TestReplenishStopsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.Partitions.Food.Count = 100
	cfg.World.MinFood = 100
	w := newTestWorld(t, cfg)
	// Slots the world does not know about.
	for i := 0; i < 40; i++ {
		if _, err := w.Arena().Allocate(arena.Food); err != nil {
			t.Fatal(err)
		}
	}

	w.replenish()

	if got := len(w.Food()); got != 60 {
		t.Errorf("food = %d, want 60", got)
	}
}

func TestScenarioE_ConnectDeclinedWhenFull(t *testing.T) {
	w := newTestWorld(t, testConfig())
	for i := 0; i < w.Arena().Capacity(arena.Player); i++ {
		if _, err := w.Arena().Allocate(arena.Player); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}

	if _, err := w.NewUserIndex(); err != nil {
		t.Fatalf("NewUserIndex: %v", err)
	}
	_, err := w.Connect("late")
	if !errors.Is(err, arena.ErrExhausted) {
		t.Fatalf("Connect error = %v, want ErrExhausted", err)
	}
	var ae *arena.AllocationError
	if !errors.As(err, &ae) || ae.Category != arena.Player {
		t.Fatalf("error = %#v, want player AllocationError", err)
	}
	if got := w.Arena().Live(arena.User); got != 0 {
		t.Errorf("user slots leaked: %d", got)
	}
	if len(w.Users()) != 0 {
		t.Errorf("users = %d, want 0", len(w.Users()))
	}
}

func TestNewUserIndexFull(t *testing.T) {
	w := newTestWorld(t, testConfig())
	for i := 0; i < w.Arena().Capacity(arena.User); i++ {
		if _, err := w.Arena().Allocate(arena.User); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := w.NewUserIndex(); !errors.Is(err, arena.ErrExhausted) {
		t.Fatalf("NewUserIndex error = %v, want ErrExhausted", err)
	}
	if _, err := w.Connect("x"); err == nil {
		t.Fatal("Connect succeeded on a full server")
	}
}

func TestEatingLastCellKillsUser(t *testing.T) {
	w := newTestWorld(t, testConfig())
	_, hunter := join(t, w, "hunter", 500, 500, 500)
	prey, preyCell := join(t, w, "prey", 501, 500, 100)
	userSlot := prey.Slot

	resolve(t, w)

	if preyCell.Alive() {
		t.Fatal("prey survived")
	}
	if got := massOf(w, hunter); got != 600 {
		t.Errorf("hunter mass = %v, want 600", got)
	}
	deaths := w.DrainDeaths()
	if len(deaths) != 1 || deaths[0].UserID != prey.ID {
		t.Fatalf("deaths = %+v, want one for prey", deaths)
	}
	if _, ok := w.Users()[prey.ID]; ok {
		t.Error("dead user still connected")
	}
	if w.Arena().IsLive(userSlot) {
		t.Error("dead user's slot still live")
	}
	if w.board.Rank(prey.ID.String()) != 0 {
		t.Error("dead user still ranked")
	}
	if len(w.DrainDeaths()) != 0 {
		t.Error("deaths not cleared by drain")
	}
}

func TestSimilarMassesDoNotEat(t *testing.T) {
	w := newTestWorld(t, testConfig())
	_, a := join(t, w, "a", 500, 500, 105)
	_, b := join(t, w, "b", 500, 500, 100)

	resolve(t, w)

	if !a.Alive() || !b.Alive() {
		t.Fatal("a cell was eaten below the merge ratio")
	}
}

func TestFoodEatenOnceWithTwoEaters(t *testing.T) {
	w := newTestWorld(t, testConfig())
	_, a := join(t, w, "a", 500, 500, 400)
	_, b := join(t, w, "b", 510, 500, 400)
	place(t, w, arena.Food, 505, 500, 1)

	resolve(t, w)

	if got := massOf(w, a) + massOf(w, b); got != 801 {
		t.Errorf("combined mass = %v, want 801", got)
	}
	if len(w.Food()) != 0 {
		t.Error("food not removed")
	}
}

func TestForceSplitAboveCeiling(t *testing.T) {
	cfg := testConfig()
	w := newTestWorld(t, cfg)
	u, _ := join(t, w, "f", 500, 500, cfg.Rules.SplitCeiling)
	place(t, w, arena.Food, 500, 500, 1)

	resolve(t, w)

	if len(u.Players) != 2 {
		t.Fatalf("siblings = %d, want 2", len(u.Players))
	}
	for _, c := range u.Players {
		if m := massOf(w, c); m > cfg.Rules.SplitCeiling {
			t.Errorf("cell mass %v above ceiling", m)
		}
	}
}

func TestExclusionTable(t *testing.T) {
	tests := []struct {
		name    string
		exclude [][2]string
		want    int
	}{
		{"default excludes food-food", config.DefaultCollision().Exclude, 0},
		{"empty table", nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Collision.Exclude = tt.exclude
			w := newTestWorld(t, cfg)
			place(t, w, arena.Food, 100, 100, 1)
			place(t, w, arena.Food, 100, 100, 1)

			w.detect()

			if len(w.pairs) != tt.want {
				t.Errorf("pairs = %d, want %d", len(w.pairs), tt.want)
			}
		})
	}
}

func TestUnknownCategoryInExclusion(t *testing.T) {
	cfg := testConfig()
	cfg.Collision.Exclude = [][2]string{{"food", "ghost"}}
	if _, err := NewWorld(cfg, nil); err == nil {
		t.Fatal("NewWorld accepted an unknown category")
	}
}

func TestStagedVirusPlacement(t *testing.T) {
	w := newTestWorld(t, testConfig())
	join(t, w, "p", 500, 500, 2000)

	blocked, err := w.spawn(arena.Virus, 500, 500, 100, virusColour)
	if err != nil {
		t.Fatal(err)
	}
	clear, err := w.spawn(arena.Virus, 50, 50, 100, virusColour)
	if err != nil {
		t.Fatal(err)
	}

	w.placeStaged()

	if clear.staged {
		t.Error("clear virus was not promoted")
	}
	if _, ok := w.collidableIdx[clear]; !ok {
		t.Error("promoted virus is not collidable")
	}
	if !blocked.staged {
		t.Error("virus on top of a player was promoted")
	}
	if _, ok := w.collidableIdx[blocked]; ok {
		t.Error("staged virus is collidable")
	}
	w.circle.Bind(blocked.Slot)
	if w.circle.X() == 500 && w.circle.Y() == 500 {
		t.Error("blocked virus was not relocated")
	}
}

func TestStepSurvivesStalledWorker(t *testing.T) {
	cfg := testConfig()
	cfg.Workers.TaskTimeout = 50 * time.Millisecond
	cfg.Workers.LockTimeout = time.Millisecond
	w := newTestWorld(t, cfg)
	stuckUser, stuck := join(t, w, "stuck", 200, 200, 900)
	place(t, w, arena.Food, 205, 200, 1)
	_, free := join(t, w, "free", 800, 800, 900)
	place(t, w, arena.Food, 805, 800, 1)

	// Held as a retired worker would hold it: never released this tick.
	held := w.Arena().Mutex(stuck.Slot)
	held.LockWait()

	done := make(chan error, 1)
	go func() { done <- w.Step(context.Background(), 1) }()
	select {
	case err := <-done:
		if !errors.Is(err, worker.ErrTaskTimeout) {
			t.Errorf("Step = %v, want ErrTaskTimeout", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Step blocked on a held slot")
	}
	w.Reset()

	if got := massOf(w, free); got <= 900 {
		t.Errorf("unaffected player mass = %v, want its food eaten", got)
	}
	if got := massOf(w, stuck); got != 900 {
		t.Errorf("held player mass = %v, want 900", got)
	}

	if err := w.Disconnect(stuckUser.ID); err != nil {
		t.Fatal(err)
	}
	if !stuck.Alive() {
		t.Fatal("cell removed while its slot was held")
	}
	if _, ok := w.Users()[stuckUser.ID]; !ok {
		t.Fatal("user dropped while it still owns a cell")
	}

	held.Unlock()
	for i := 0; i < 50 && stuck.Alive(); i++ {
		w.Reset()
		w.Step(context.Background(), 1)
	}
	if stuck.Alive() {
		t.Fatal("left-behind cell never removed")
	}
	if _, ok := w.Users()[stuckUser.ID]; ok {
		t.Error("user kept after its last cell went")
	}
	found := false
	for _, id := range w.Killed() {
		found = found || id == stuck.ID
	}
	if !found {
		t.Errorf("killed = %v, want %s", w.Killed(), stuck.ID)
	}
	if len(w.DrainDeaths()) != 0 {
		t.Error("disconnect produced a death event")
	}
}

func TestApplyEffectsSkipsHeldEater(t *testing.T) {
	cfg := testConfig()
	cfg.Workers.LockTimeout = time.Millisecond
	w := newTestWorld(t, cfg)
	_, eater := join(t, w, "big", 500, 500, 900)
	_, prey := join(t, w, "small", 502, 500, 100)

	w.pairs = [][2]*Cell{{eater, prey}}
	results := []worker.Result{{Effects: []worker.Effect{
		{Pair: 0, Subject: 0, Kind: worker.EffectEatPlayer, Percent: 1},
	}}}

	held := w.Arena().Mutex(eater.Slot)
	held.LockWait()
	w.applyEffects(results)
	if !prey.Alive() || massOf(w, eater) != 900 {
		t.Fatalf("eat applied through a held lock: prey alive %v, eater mass %v", prey.Alive(), massOf(w, eater))
	}

	held.Unlock()
	w.applyEffects(results)
	if prey.Alive() {
		t.Fatal("prey survived once the lock was free")
	}
	if got := massOf(w, eater); got != 1000 {
		t.Errorf("eater mass = %v, want 1000", got)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	w := newTestWorld(t, testConfig())
	c := place(t, w, arena.Food, 10, 10, 1)
	w.remove(c)
	w.remove(c)
	if got := len(w.Killed()); got != 1 {
		t.Errorf("killed = %d, want 1", got)
	}
	if got := w.Arena().Live(arena.Food); got != 0 {
		t.Errorf("live food = %d, want 0", got)
	}
}

func TestStepMaintainsPopulation(t *testing.T) {
	cfg := testConfig()
	cfg.World.MinFood = 200
	cfg.World.MinViruses = 4
	w := newTestWorld(t, cfg)
	join(t, w, "a", 100, 100, 50)
	join(t, w, "b", 900, 900, 50)

	for i := 0; i < 5; i++ {
		if err := w.Step(context.Background(), 1); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
		if w.Phase() != PhaseIdle {
			t.Fatalf("phase after step = %s, want idle", w.Phase())
		}
		w.Reset()
	}

	if got := w.Tick(); got != 5 {
		t.Errorf("tick = %d, want 5", got)
	}
	if got := len(w.Food()); got < cfg.World.MinFood {
		t.Errorf("food = %d, want at least %d", got, cfg.World.MinFood)
	}
	if got := len(w.Viruses()); got != cfg.World.MinViruses {
		t.Errorf("viruses = %d, want %d", got, cfg.World.MinViruses)
	}
	if got := len(w.Leaderboard(10)); got != 2 {
		t.Errorf("leaderboard rows = %d, want 2", got)
	}
}

func TestResetClearsDirty(t *testing.T) {
	w := newTestWorld(t, testConfig())
	c := place(t, w, arena.Food, 10, 10, 1)
	w.circle.Bind(c.Slot)
	if !w.circle.Dirty() {
		t.Fatal("new cell not dirty")
	}
	w.Reset()
	w.circle.Bind(c.Slot)
	if w.circle.Dirty() {
		t.Error("dirty flag survived Reset")
	}
	if w.Phase() != PhaseIdle {
		t.Errorf("phase = %s, want idle", w.Phase())
	}
}

func BenchmarkStep(b *testing.B) {
	cfg := testConfig()
	cfg.World.MinFood = 2048
	cfg.World.MinViruses = 32
	w := newTestWorld(b, cfg)
	for i := 0; i < 200; i++ {
		join(b, w, "bot", float64(i*5), float64(i*5), 50)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := w.Step(ctx, 1); err != nil {
			b.Fatal(err)
		}
		w.Reset()
	}
}
