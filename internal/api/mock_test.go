package api

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"cell-arena/internal/game"
	"cell-arena/internal/game/leaderboard"
)

// mockEngine implements EngineInterface for testing
type mockEngine struct {
	mu         sync.Mutex
	snapshot   *game.Snapshot
	overview   []game.CellState
	board      []leaderboard.Standing
	connectErr error
	actions    []string
	targets    [][2]float64
	left       []uuid.UUID

	snaps  chan *game.Snapshot
	deaths chan game.DeathEvent
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		snapshot: &game.Snapshot{
			Tick:    7,
			Width:   1000,
			Height:  1000,
			Cameras: map[string]game.Camera{},
			Counts:  map[string]int{"player": 2, "food": 40, "virus": 3, "mass": 0, "user": 2},
		},
		overview: []game.CellState{
			{ID: "a", Kind: "player", X: 100, Y: 100, Mass: 50, Radius: 4, Colour: "#ff0000"},
			{ID: "v", Kind: "virus", X: 800, Y: 300, Mass: 100, Radius: 5.6, Colour: "#22ff22"},
		},
		board: []leaderboard.Standing{
			{ID: "1", Name: "big", Mass: 300, Rank: 1},
			{ID: "2", Name: "mid", Mass: 200, Rank: 2},
			{ID: "3", Name: "small", Mass: 100, Rank: 3},
		},
		snaps:  make(chan *game.Snapshot, 8),
		deaths: make(chan game.DeathEvent, 8),
	}
}

func (m *mockEngine) Snapshot() *game.Snapshot   { return m.snapshot }
func (m *mockEngine) Overview() []game.CellState { return m.overview }

func (m *mockEngine) Leaderboard(n int) []leaderboard.Standing {
	if n > len(m.board) {
		n = len(m.board)
	}
	return m.board[:n]
}

func (m *mockEngine) Connect(ctx context.Context, name string) (game.Welcome, error) {
	if m.connectErr != nil {
		return game.Welcome{}, m.connectErr
	}
	return game.Welcome{UserID: uuid.New(), State: m.snapshot}, nil
}

func (m *mockEngine) record(action string) {
	m.mu.Lock()
	m.actions = append(m.actions, action)
	m.mu.Unlock()
}

func (m *mockEngine) Disconnect(id uuid.UUID) error {
	m.mu.Lock()
	m.left = append(m.left, id)
	m.mu.Unlock()
	return nil
}

func (m *mockEngine) SetTarget(id uuid.UUID, x, y float64) error {
	m.mu.Lock()
	m.targets = append(m.targets, [2]float64{x, y})
	m.mu.Unlock()
	m.record(FrameTarget)
	return nil
}

func (m *mockEngine) Split(id uuid.UUID) error { m.record(FrameSplit); return nil }
func (m *mockEngine) Eject(id uuid.UUID) error { m.record(FrameEject); return nil }

func (m *mockEngine) Subscribe() (<-chan *game.Snapshot, func()) { return m.snaps, func() {} }
func (m *mockEngine) Deaths() <-chan game.DeathEvent             { return m.deaths }

func (m *mockEngine) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.actions...)
}

func (m *mockEngine) disconnected() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.left...)
}
