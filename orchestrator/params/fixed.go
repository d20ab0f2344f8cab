package params

import "github.com/PeladoCollado/fractalload/types"

// DefaultJobParams matches the fixed parameters of the load test: a 1920x1080 Julia set render.
func DefaultJobParams() types.JobParams {
	return types.JobParams{
		Width:   1920,
		Height:  1080,
		Power:   2,
		Real:    0.285,
		Imag:    0.01,
		Scale:   1,
		OffsetX: 0,
		OffsetY: 0,
		Color:   "rainbow",
	}
}

type FixedSource struct {
	params types.JobParams
}

func NewFixedSource(params types.JobParams) types.ParamsSource {
	return &FixedSource{params: params}
}

func (f *FixedSource) Next() (types.JobParams, error) {
	return f.params, nil
}

func (f *FixedSource) Reset() error {
	return nil
}
