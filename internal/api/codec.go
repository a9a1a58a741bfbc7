package api

import (
	"errors"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"cell-arena/internal/game"
	"cell-arena/internal/game/leaderboard"
)

// ErrMalformedFrame is returned for client frames that cannot be decoded
// or name an unknown action.
var ErrMalformedFrame = errors.New("malformed frame")

// Client frame types.
const (
	FrameTarget = "target"
	FrameSplit  = "split"
	FrameEject  = "eject"
)

// Error codes carried by error frames.
const (
	CodeMalformed   = "malformed"
	CodeRateLimited = "rate_limited"
	CodeCapacity    = "capacity"
	CodeBusy        = "busy"
	CodeUnavailable = "unavailable"
)

// ClientFrame is one action sent by a player.
type ClientFrame struct {
	Type string  `msgpack:"type"`
	X    float64 `msgpack:"x,omitempty"`
	Y    float64 `msgpack:"y,omitempty"`
}

// WorldInfo describes the arena bounds.
type WorldInfo struct {
	Width  float64 `msgpack:"width"`
	Height float64 `msgpack:"height"`
}

type welcomeFrame struct {
	Type  string         `msgpack:"type"`
	ID    string         `msgpack:"id"`
	World WorldInfo      `msgpack:"world"`
	Full  *game.Snapshot `msgpack:"full"`
}

type tickFrame struct {
	Type        string                 `msgpack:"type"`
	Tick        uint64                 `msgpack:"tick"`
	Cells       []game.CellState       `msgpack:"cells"`
	Killed      []string               `msgpack:"killed"`
	Camera      *game.Camera           `msgpack:"camera,omitempty"`
	Leaderboard []leaderboard.Standing `msgpack:"leaderboard"`
}

type deathFrame struct {
	Type string `msgpack:"type"`
	Tick uint64 `msgpack:"tick"`
}

type errorFrame struct {
	Type    string `msgpack:"type"`
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

// DecodeClientFrame parses and validates a binary client frame.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch f.Type {
	case FrameSplit, FrameEject:
	case FrameTarget:
		if math.IsNaN(f.X) || math.IsNaN(f.Y) || math.IsInf(f.X, 0) || math.IsInf(f.Y, 0) {
			return ClientFrame{}, fmt.Errorf("%w: non-finite target", ErrMalformedFrame)
		}
	default:
		return ClientFrame{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
	return f, nil
}

// EncodeClientFrame is the client side of DecodeClientFrame.
func EncodeClientFrame(f ClientFrame) ([]byte, error) {
	return msgpack.Marshal(&f)
}

func encodeWelcome(w game.Welcome) ([]byte, error) {
	return msgpack.Marshal(&welcomeFrame{
		Type:  "welcome",
		ID:    w.UserID.String(),
		World: WorldInfo{Width: w.State.Width, Height: w.State.Height},
		Full:  w.State,
	})
}

// encodeTick builds the per-session view of a snapshot: shared cells plus
// the session's own camera.
func encodeTick(s *game.Snapshot, user string) ([]byte, error) {
	f := tickFrame{
		Type:        "tick",
		Tick:        s.Tick,
		Cells:       s.Cells,
		Killed:      s.Killed,
		Leaderboard: s.Leaderboard,
	}
	if cam, ok := s.Cameras[user]; ok {
		f.Camera = &cam
	}
	return msgpack.Marshal(&f)
}

func encodeDeath(tick uint64) ([]byte, error) {
	return msgpack.Marshal(&deathFrame{Type: "death", Tick: tick})
}

func encodeError(code, message string) []byte {
	// Strings only; Marshal cannot fail.
	data, _ := msgpack.Marshal(&errorFrame{Type: "error", Code: code, Message: message})
	return data
}

// ServerFrame is a decoded server frame, for clients and tests.
type ServerFrame struct {
	Type        string                 `msgpack:"type"`
	ID          string                 `msgpack:"id"`
	World       WorldInfo              `msgpack:"world"`
	Full        *game.Snapshot         `msgpack:"full"`
	Tick        uint64                 `msgpack:"tick"`
	Cells       []game.CellState       `msgpack:"cells"`
	Killed      []string               `msgpack:"killed"`
	Camera      *game.Camera           `msgpack:"camera"`
	Leaderboard []leaderboard.Standing `msgpack:"leaderboard"`
	Code        string                 `msgpack:"code"`
	Message     string                 `msgpack:"message"`
}

// DecodeServerFrame parses any frame the server sends.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var f ServerFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return ServerFrame{}, fmt.Errorf("decode server frame: %w", err)
	}
	return f, nil
}
