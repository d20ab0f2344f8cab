package params

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/PeladoCollado/fractalload/types"
)

var randomColors = []string{"rainbow", "greyscale", "fire", "hsl"}

type RandomRange struct {
	MinWidth  int
	MaxWidth  int
	MinHeight int
	MaxHeight int
	MinScale  float64
	MaxScale  float64
}

func DefaultRandomRange() RandomRange {
	return RandomRange{
		MinWidth:  800,
		MaxWidth:  1920,
		MinHeight: 600,
		MaxHeight: 1080,
		MinScale:  0.5,
		MaxScale:  2.0,
	}
}

// RandomSource varies image size, scale and colour for every job. It is not safe for concurrent use;
// each worker gets its own.
type RandomSource struct {
	bounds RandomRange
	rng    *rand.Rand
}

func NewRandomSource(bounds RandomRange, seed int64) (types.ParamsSource, error) {
	if bounds.MaxWidth < bounds.MinWidth || bounds.MinWidth <= 0 {
		return nil, fmt.Errorf("invalid width range [%d, %d]", bounds.MinWidth, bounds.MaxWidth)
	}
	if bounds.MaxHeight < bounds.MinHeight || bounds.MinHeight <= 0 {
		return nil, fmt.Errorf("invalid height range [%d, %d]", bounds.MinHeight, bounds.MaxHeight)
	}
	if bounds.MaxScale < bounds.MinScale || bounds.MinScale <= 0 {
		return nil, fmt.Errorf("invalid scale range [%g, %g]", bounds.MinScale, bounds.MaxScale)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomSource{
		bounds: bounds,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

func (r *RandomSource) Next() (types.JobParams, error) {
	return types.JobParams{
		Width:  r.intBetween(r.bounds.MinWidth, r.bounds.MaxWidth),
		Height: r.intBetween(r.bounds.MinHeight, r.bounds.MaxHeight),
		Power:  2,
		Scale:  r.scale(),
		Color:  randomColors[r.rng.Intn(len(randomColors))],
	}, nil
}

func (r *RandomSource) Reset() error {
	return nil
}

func (r *RandomSource) intBetween(min int, max int) int {
	if max == min {
		return min
	}
	return min + r.rng.Intn(max-min+1)
}

// scale is rounded to three decimals.
func (r *RandomSource) scale() float64 {
	value := r.bounds.MinScale + r.rng.Float64()*(r.bounds.MaxScale-r.bounds.MinScale)
	return math.Round(value*1000) / 1000
}
