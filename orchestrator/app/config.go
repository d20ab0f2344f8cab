package app

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/PeladoCollado/fractalload/fractalapi"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ConfigFile string `yaml:"-"`
	ListenPort int    `yaml:"listenPort"`
	Verbose    bool   `yaml:"verbose"`

	BaseURL      string `yaml:"baseUrl"`
	EnvFile      string `yaml:"envFile"`
	IncludeAdmin bool   `yaml:"includeAdmin"`

	StartIterations  int     `yaml:"startIterations"`
	MaxJobs          int     `yaml:"maxJobs"`
	LoginConcurrency int     `yaml:"loginConcurrency"`
	SubmitRate       float64 `yaml:"submitRate"`

	ParamsSource string `yaml:"paramsSource"`
	ParamsFile   string `yaml:"paramsFile"`
	RandomSeed   int64  `yaml:"randomSeed"`

	PollInterval    time.Duration `yaml:"pollInterval"`
	MaxPollAttempts int           `yaml:"maxPollAttempts"`

	LoginTimeout  time.Duration `yaml:"loginTimeout"`
	SubmitTimeout time.Duration `yaml:"submitTimeout"`
	StatusTimeout time.Duration `yaml:"statusTimeout"`
	HTTPRetries   int           `yaml:"httpRetries"`
}

func DefaultConfig() Config {
	return Config{
		ListenPort: 8099,

		EnvFile: ".env",

		StartIterations: 501,

		ParamsSource: "fixed",

		PollInterval:    fractalapi.DefaultPollInterval,
		MaxPollAttempts: fractalapi.DefaultMaxPollAttempts,

		LoginTimeout:  fractalapi.DefaultLoginTimeout,
		SubmitTimeout: fractalapi.DefaultSubmitTimeout,
		StatusTimeout: fractalapi.DefaultStatusTimeout,
		HTTPRetries:   1,
	}
}

func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Optional YAML config file; flags override its values")
	fs.IntVar(&cfg.ListenPort, "listen-port", cfg.ListenPort, "Port for the report and metrics endpoints (0 disables)")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable development logging")

	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "API base URL, e.g. http://localhost:3000/api (defaults to API_BASE_URL or SERVER_IP)")
	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "Dotenv file to load before reading the environment")
	fs.BoolVar(&cfg.IncludeAdmin, "include-admin", cfg.IncludeAdmin, "Also run the ADMIN_NAME user")

	fs.IntVar(&cfg.StartIterations, "start-iterations", cfg.StartIterations, "First iterations value handed out")
	fs.IntVar(&cfg.MaxJobs, "max-jobs", cfg.MaxJobs, "Jobs per user before the worker stops (0 = until interrupted)")
	fs.IntVar(&cfg.LoginConcurrency, "login-concurrency", cfg.LoginConcurrency, "Maximum simultaneous logins (0 = all at once)")
	fs.Float64Var(&cfg.SubmitRate, "submit-rate", cfg.SubmitRate, "Maximum submissions per second across all users (0 = unlimited)")

	fs.StringVar(&cfg.ParamsSource, "params-source", cfg.ParamsSource, "Job parameter source: fixed, random or file")
	fs.StringVar(&cfg.ParamsFile, "params-file", cfg.ParamsFile, "Path to a JSON stream of job parameters (params-source=file)")
	fs.Int64Var(&cfg.RandomSeed, "random-seed", cfg.RandomSeed, "Seed for params-source=random (0 = time based)")

	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Delay between status checks of a queued job")
	fs.IntVar(&cfg.MaxPollAttempts, "max-poll-attempts", cfg.MaxPollAttempts, "Status checks before a queued job is timed out")

	fs.DurationVar(&cfg.LoginTimeout, "login-timeout", cfg.LoginTimeout, "Timeout of a login call")
	fs.DurationVar(&cfg.SubmitTimeout, "submit-timeout", cfg.SubmitTimeout, "Timeout of a submit call")
	fs.DurationVar(&cfg.StatusTimeout, "status-timeout", cfg.StatusTimeout, "Timeout of a single status check")
	fs.IntVar(&cfg.HTTPRetries, "http-retries", cfg.HTTPRetries, "Retries for submit and status calls on 5xx or connection errors")
}

// ParseConfig applies defaults, then the optional config file, then command line flags.
func ParseConfig(args []string) (Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("orchestrator", flag.ContinueOnError)
	BindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.ConfigFile == "" {
		return cfg, nil
	}

	fileCfg := DefaultConfig()
	if err := LoadConfigFile(cfg.ConfigFile, &fileCfg); err != nil {
		return Config{}, err
	}
	fs = flag.NewFlagSet("orchestrator", flag.ContinueOnError)
	BindFlags(fs, &fileCfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return fileCfg, nil
}

func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func ValidateConfig(cfg Config) error {
	if cfg.ListenPort < 0 {
		return fmt.Errorf("listen-port must be >= 0")
	}
	if cfg.ParamsSource == "" {
		return fmt.Errorf("params-source is required")
	}
	if cfg.MaxJobs < 0 {
		return fmt.Errorf("max-jobs must be >= 0")
	}
	if cfg.LoginConcurrency < 0 {
		return fmt.Errorf("login-concurrency must be >= 0")
	}
	if cfg.SubmitRate < 0 {
		return fmt.Errorf("submit-rate must be >= 0")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be > 0")
	}
	if cfg.MaxPollAttempts <= 0 {
		return fmt.Errorf("max-poll-attempts must be > 0")
	}
	if cfg.LoginTimeout <= 0 || cfg.SubmitTimeout <= 0 || cfg.StatusTimeout <= 0 {
		return fmt.Errorf("login-timeout, submit-timeout and status-timeout must be > 0")
	}
	if cfg.HTTPRetries < 0 {
		return fmt.Errorf("http-retries must be >= 0")
	}
	return nil
}
