package arena

import (
	"encoding/binary"
	"math"
)

// Record layout, little-endian, shared by every category:
//
//	0  f64 x
//	8  f64 y
//	16 f32 mass (users: camera scale)
//	20 u8  flags
//	21 u8  movement stamp
//	24 f32 velX (users: target x)
//	28 f32 velY (users: target y)
//	32 f32 merge timer, ms     (player)
//	36 u16 owner user index    (player)
const (
	offX          = 0
	offY          = 8
	offMass       = 16
	offFlags      = 20
	offStamp      = 21
	offVelX       = 24
	offVelY       = 28
	offMergeTimer = 32
	offOwner      = 36
)

const (
	flagDirty    = 1 << 0
	flagConsumed = 1 << 1
)

// StampNever marks a player that has not been moved since allocation.
const StampNever = 0xFF

// MinSlotSize is the smallest slot that holds category c's record.
func MinSlotSize(c Category) int {
	switch c {
	case Player:
		return 40
	case Food:
		return 24
	default:
		return 32
	}
}

var le = binary.LittleEndian

func getF64(b []byte, off int) float64    { return math.Float64frombits(le.Uint64(b[off:])) }
func putF64(b []byte, off int, v float64) { le.PutUint64(b[off:], math.Float64bits(v)) }
func getF32(b []byte, off int) float32    { return math.Float32frombits(le.Uint32(b[off:])) }
func putF32(b []byte, off int, v float32) { le.PutUint32(b[off:], math.Float32bits(v)) }
