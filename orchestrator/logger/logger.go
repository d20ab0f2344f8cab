package logger

import "go.uber.org/zap"

var Logger *zap.SugaredLogger

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Unable to initialize logger!")
	}
	Logger = logger.Sugar()
}

// Init swaps the global logger for a development logger when verbose is set.
func Init(verbose bool) error {
	if !verbose {
		return nil
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	Logger = logger.Sugar()
	return nil
}

func Sync() {
	_ = Logger.Sync()
}
