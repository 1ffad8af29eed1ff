package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // decoder registration
	_ "image/jpeg" // decoder registration
	_ "image/png"  // decoder registration
	"math"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"  // decoder registration
	_ "golang.org/x/image/webp" // decoder registration

	fileutil "certprint/internal/file"
)

const (
	DefaultAttempts      = 3
	MaxAttempts          = 5
	DefaultInitialOffset = 12.0
)

// Recognizer locates the gap of a slider challenge. It returns the gap's
// left x coordinate in the native resolution of the image.
type Recognizer interface {
	Identify(ctx context.Context, imagePath string) (float64, error)
}

// Source yields the challenge currently shown and can ask for a new one.
type Source interface {
	// Background returns the encoded challenge image and its on-screen width.
	Background(ctx context.Context) ([]byte, float64, error)
	Refresh(ctx context.Context) error
}

// Challenge is everything computed for one solved slider puzzle.
type Challenge struct {
	RenderedWidth float64
	NativeWidth   float64
	Scale         float64
	GapX          float64
	InitialOffset float64
	Distance      int
	Trajectory    []int
	ImagePath     string
}

type Options struct {
	Attempts      int
	InitialOffset float64
	ScratchDir    string
	Rand          *rand.Rand
}

type Solver struct {
	recognizer    Recognizer
	attempts      int
	initialOffset float64
	scratchDir    string
	rng           *rand.Rand
}

// NewSolver builds a solver. Attempts are clamped to 1..MaxAttempts.
func NewSolver(recognizer Recognizer, opts Options) *Solver {
	attempts := opts.Attempts
	switch {
	case attempts <= 0:
		attempts = DefaultAttempts
	case attempts > MaxAttempts:
		attempts = MaxAttempts
	}
	offset := opts.InitialOffset
	if offset == 0 {
		offset = DefaultInitialOffset
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())) //nolint:gosec // not security sensitive
	}
	scratch := opts.ScratchDir
	if scratch == "" {
		scratch = "test-image"
	}
	return &Solver{
		recognizer:    recognizer,
		attempts:      attempts,
		initialOffset: offset,
		scratchDir:    scratch,
		rng:           rng,
	}
}

// Distance converts a native gap coordinate to an on-screen drag distance.
func Distance(gapX, initialOffset, scale float64) int {
	d := int(math.Round((gapX - initialOffset) * scale))
	if d < 1 {
		return 1
	}
	return d
}

// Solve recognizes the gap of the current challenge and plans the drag. A
// failed attempt refreshes the challenge; after the last one ErrExhausted is
// returned.
func (s *Solver) Solve(ctx context.Context, src Source) (Challenge, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		challenge, err := s.attempt(ctx, src)
		if err == nil {
			challenge.Trajectory = Trajectory(challenge.Distance, s.rng)
			log.Info().
				Int("attempt", attempt).
				Float64("gap_x", challenge.GapX).
				Float64("scale", challenge.Scale).
				Int("distance", challenge.Distance).
				Int("steps", len(challenge.Trajectory)).
				Msg("captcha solved")
			return challenge, nil
		}
		lastErr = err
		log.Warn().Int("attempt", attempt).Err(err).Msg("captcha recognition failed")
		if ctx.Err() != nil {
			break
		}
		if attempt < s.attempts {
			if rerr := src.Refresh(ctx); rerr != nil {
				log.Warn().Err(rerr).Msg("captcha refresh failed")
			}
		}
	}
	return Challenge{}, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, s.attempts, lastErr)
}

// Moves plans the pointer replay for a track.
func (s *Solver) Moves(track []int) []Move {
	return Moves(track, s.rng)
}

func (s *Solver) attempt(ctx context.Context, src Source) (Challenge, error) {
	raw, renderedWidth, err := src.Background(ctx)
	if err != nil {
		return Challenge{}, fmt.Errorf("read challenge: %w", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	if cfg.Width == 0 {
		return Challenge{}, ErrZeroWidth
	}

	imagePath := filepath.Join(s.scratchDir, fmt.Sprintf("%d_image.%s", time.Now().UnixNano(), format))
	if err := fileutil.CopyAtomic(imagePath, bytes.NewReader(raw)); err != nil {
		return Challenge{}, fmt.Errorf("persist challenge: %w", err)
	}

	gapX, err := s.recognizer.Identify(ctx, imagePath)
	if err != nil {
		return Challenge{}, err
	}

	nativeWidth := float64(cfg.Width)
	scale := renderedWidth / nativeWidth
	return Challenge{
		RenderedWidth: renderedWidth,
		NativeWidth:   nativeWidth,
		Scale:         scale,
		GapX:          gapX,
		InitialOffset: s.initialOffset,
		Distance:      Distance(gapX, s.initialOffset, scale),
		ImagePath:     imagePath,
	}, nil
}

// DecodeDataURL extracts the payload of a base64 data URL as rendered in the
// challenge's src attribute.
func DecodeDataURL(src string) ([]byte, error) {
	if !strings.HasPrefix(src, "data:image") {
		return nil, ErrBadImageSrc
	}
	_, payload, found := strings.Cut(src, "base64,")
	if !found {
		return nil, ErrBadImageSrc
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}
