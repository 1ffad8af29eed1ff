package captcha

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	timeSlice = 0.2

	switchLow  = 0.6
	switchHigh = 0.8
	accelLow   = 2.0
	accelHigh  = 4.0
	decelLow   = 3.0
	decelHigh  = 5.0

	jitterY  = 1.0
	minDelay = 10 * time.Millisecond
	maxDelay = 30 * time.Millisecond
)

// Move is one pointer step of a drag replay.
type Move struct {
	DX    float64
	DY    float64
	Delay time.Duration
}

// Trajectory splits distance into integer pixel steps following an
// accelerate-then-decelerate profile. The switch point is drawn per call.
// Every step is at least 1 and the steps sum exactly to distance.
func Trajectory(distance int, rng *rand.Rand) []int {
	if distance < 1 {
		return nil
	}
	target := float64(distance)
	switchAt := target * uniform(rng, switchLow, switchHigh)

	var (
		track    []int
		emitted  int
		position float64
		velocity float64
	)
	for emitted < distance {
		accel := uniform(rng, accelLow, accelHigh)
		if position >= switchAt {
			accel = -uniform(rng, decelLow, decelHigh)
		}
		v0 := velocity
		velocity = math.Max(v0+accel*timeSlice, 0)
		move := math.Max(v0*timeSlice+0.5*accel*timeSlice*timeSlice, 1)
		position += move

		step := int(math.Round(position)) - emitted
		if step < 1 {
			step = 1
		}
		if emitted+step > distance {
			step = distance - emitted
		}
		track = append(track, step)
		emitted += step
		position = math.Max(position, float64(emitted))
	}
	return track
}

// Moves turns a track into pointer moves with vertical jitter and a random
// per-step delay.
func Moves(track []int, rng *rand.Rand) []Move {
	moves := make([]Move, 0, len(track))
	for _, step := range track {
		delay := minDelay + time.Duration(rng.Int64N(int64(maxDelay-minDelay)+1))
		moves = append(moves, Move{
			DX:    float64(step),
			DY:    uniform(rng, -jitterY, jitterY),
			Delay: delay,
		})
	}
	return moves
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
