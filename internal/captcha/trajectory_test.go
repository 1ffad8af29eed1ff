package captcha

import (
	"math/rand/v2"
	"testing"
	"time"
)

func TestTrajectorySumsToDistance(t *testing.T) {
	for _, distance := range []int{1, 2, 7, 50, 94, 300} {
		for seed := uint64(0); seed < 20; seed++ {
			rng := rand.New(rand.NewPCG(seed, seed+1))
			track := Trajectory(distance, rng)
			sum := 0
			for i, step := range track {
				if step < 1 {
					t.Fatalf("distance %d seed %d: step %d is %d", distance, seed, i, step)
				}
				sum += step
			}
			if sum != distance {
				t.Fatalf("distance %d seed %d: track sums to %d", distance, seed, sum)
			}
		}
	}
}

func TestTrajectoryNonPositiveDistance(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	if got := Trajectory(0, rng); len(got) != 0 {
		t.Fatalf("expected empty track, got %v", got)
	}
}

func TestMovesJitterAndDelay(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	track := Trajectory(120, rng)
	moves := Moves(track, rng)
	if len(moves) != len(track) {
		t.Fatalf("expected %d moves, got %d", len(track), len(moves))
	}
	for i, m := range moves {
		if int(m.DX) != track[i] {
			t.Fatalf("move %d: dx %v != step %d", i, m.DX, track[i])
		}
		if m.DY < -1 || m.DY > 1 {
			t.Fatalf("move %d: dy %v out of range", i, m.DY)
		}
		if m.Delay < 10*time.Millisecond || m.Delay > 30*time.Millisecond {
			t.Fatalf("move %d: delay %s out of range", i, m.Delay)
		}
	}
}
