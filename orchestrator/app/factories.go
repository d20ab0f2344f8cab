package app

import (
	"fmt"

	"github.com/PeladoCollado/fractalload/orchestrator/params"
	"github.com/PeladoCollado/fractalload/types"
)

// ParamsSourceFactory is called once per worker; sources are never shared between workers.
type ParamsSourceFactory interface {
	NewParamsSource(cfg Config, workerIndex int) (types.ParamsSource, error)
}

type ParamsSourceFactoryFunc func(cfg Config, workerIndex int) (types.ParamsSource, error)

func (f ParamsSourceFactoryFunc) NewParamsSource(cfg Config, workerIndex int) (types.ParamsSource, error) {
	return f(cfg, workerIndex)
}

func NewBuiltInParamsSource(cfg Config, workerIndex int) (types.ParamsSource, error) {
	switch cfg.ParamsSource {
	case "fixed":
		return params.NewFixedSource(params.DefaultJobParams()), nil
	case "random":
		seed := cfg.RandomSeed
		if seed != 0 {
			seed += int64(workerIndex)
		}
		return params.NewRandomSource(params.DefaultRandomRange(), seed)
	case "file":
		if cfg.ParamsFile == "" {
			return nil, fmt.Errorf("params-file is required when params-source=file")
		}
		return params.NewFileReader(cfg.ParamsFile)
	default:
		return nil, fmt.Errorf("unsupported params-source %q", cfg.ParamsSource)
	}
}

func paramsSourceFactoryOrDefault(factory ParamsSourceFactory) ParamsSourceFactory {
	if factory != nil {
		return factory
	}
	return ParamsSourceFactoryFunc(NewBuiltInParamsSource)
}
