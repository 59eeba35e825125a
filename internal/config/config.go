package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MaxThreads bounds the number of concurrently solved slices.
const MaxThreads = 8192

type Config struct {
	Paths    PathsConfig   `mapstructure:"paths"     yaml:"paths"`
	Recon    ReconConfig   `mapstructure:"recon"     yaml:"recon"`
	Grid     GridConfig    `mapstructure:"grid"      yaml:"grid"`
	Deconv   DeconvConfig  `mapstructure:"deconv"    yaml:"deconv"`
	Runtime  RuntimeConfig `mapstructure:"runtime"   yaml:"runtime"`
	LogLevel string        `mapstructure:"log_level" yaml:"log_level"`
}

type PathsConfig struct {
	Input    string `mapstructure:"input"    yaml:"input"`
	Output   string `mapstructure:"output"   yaml:"output"`
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	IterLog  string `mapstructure:"iter_log" yaml:"iter_log"`
	Report   string `mapstructure:"report"   yaml:"report"`
}

type ReconConfig struct {
	Method        string  `mapstructure:"method"         yaml:"method"`
	Layout        string  `mapstructure:"layout"         yaml:"layout"`
	Iters         int     `mapstructure:"iters"          yaml:"iters"`
	Delta         float64 `mapstructure:"delta"          yaml:"delta"`
	Sigma         float64 `mapstructure:"sigma"          yaml:"sigma"`
	Lambda        float64 `mapstructure:"lambda"         yaml:"lambda"`
	Accel         float64 `mapstructure:"accel"          yaml:"accel"`
	MaxBacktracks int     `mapstructure:"max_backtracks" yaml:"max_backtracks"`
}

// GridConfig sets the written size of each indirect axis. Zero sizes are
// inferred from the schedule; zero dims follows the schedule's arity.
type GridConfig struct {
	Dims int `mapstructure:"dims" yaml:"dims"`
	X    int `mapstructure:"x"    yaml:"x"`
	Y    int `mapstructure:"y"    yaml:"y"`
	Z    int `mapstructure:"z"    yaml:"z"`
}

// Sizes returns the configured sizes of the first dims axes.
func (g GridConfig) Sizes(dims int) []int {
	return []int{g.X, g.Y, g.Z}[:dims]
}

type KernelConfig struct {
	J  float64 `mapstructure:"j"  yaml:"j"`
	W  float64 `mapstructure:"w"  yaml:"w"`
	SW float64 `mapstructure:"sw" yaml:"sw"`
}

type DeconvConfig struct {
	X KernelConfig `mapstructure:"x" yaml:"x"`
	Y KernelConfig `mapstructure:"y" yaml:"y"`
	Z KernelConfig `mapstructure:"z" yaml:"z"`
}

// Axes returns the kernels in axis order.
func (d DeconvConfig) Axes() []KernelConfig {
	return []KernelConfig{d.X, d.Y, d.Z}
}

type RuntimeConfig struct {
	Threads       int `mapstructure:"threads"         yaml:"threads"`
	MemoryLimitMB int `mapstructure:"memory_limit_mb" yaml:"memory_limit_mb"`
}

// MemoryLimit returns the workspace budget in bytes, or zero when unlimited.
func (r RuntimeConfig) MemoryLimit() int64 {
	return int64(r.MemoryLimitMB) << 20
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			Input:    "-",
			Output:   "-",
			Schedule: "nuslist",
		},
		Recon: ReconConfig{
			Method: "backtracking",
			Layout: "planar",
			Iters:  250,
			Delta:  1,
			Sigma:  1,
			Lambda: 0,
			Accel:  1,
		},
		Runtime: RuntimeConfig{
			Threads: 1,
		},
		LogLevel: "info",
	}
}

// bindings maps config keys to the flags that set them.
var bindings = []struct{ key, flag string }{
	{"paths.input", "in"},
	{"paths.output", "out"},
	{"paths.schedule", "sched"},
	{"paths.iter_log", "log"},
	{"paths.report", "report"},
	{"recon.method", "method"},
	{"recon.layout", "layout"},
	{"recon.iters", "iters"},
	{"recon.delta", "delta"},
	{"recon.sigma", "sigma"},
	{"recon.lambda", "lambda"},
	{"recon.accel", "accel"},
	{"recon.max_backtracks", "max-backtracks"},
	{"grid.dims", "dims"},
	{"grid.x", "x-size"},
	{"grid.y", "y-size"},
	{"grid.z", "z-size"},
	{"deconv.x.j", "jx"},
	{"deconv.x.w", "wx"},
	{"deconv.x.sw", "swx"},
	{"deconv.y.j", "jy"},
	{"deconv.y.w", "wy"},
	{"deconv.y.sw", "swy"},
	{"deconv.z.j", "jz"},
	{"deconv.z.w", "wz"},
	{"deconv.z.sw", "swz"},
	{"runtime.threads", "threads"},
	{"runtime.memory_limit_mb", "memory-limit-mb"},
	{"log_level", "log-level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("in", defaults.Paths.Input, "Input NMRPipe stream (- for stdin)")
	fs.String("out", defaults.Paths.Output, "Output NMRPipe stream (- for stdout)")
	fs.String("sched", defaults.Paths.Schedule, "Sampling schedule file")
	fs.String("log", defaults.Paths.IterLog, "Per-iteration log file")
	fs.String("report", defaults.Paths.Report, "YAML run report file")
	fs.String("method", defaults.Recon.Method, "Solver scheme (backtracking|dual-averaging)")
	fs.String("layout", defaults.Recon.Layout, "Input sample layout (planar|interleaved)")
	fs.Int("iters", defaults.Recon.Iters, "Iterations per slice")
	fs.Float64("delta", defaults.Recon.Delta, "Regularization background")
	fs.Float64("sigma", defaults.Recon.Sigma, "Noise estimate")
	fs.Float64("lambda", defaults.Recon.Lambda, "Constant Lagrange multiplier (0 for constant-aim)")
	fs.Float64("accel", defaults.Recon.Accel, "Initial step acceleration, L0 = Lf/accel")
	fs.Int("max-backtracks", defaults.Recon.MaxBacktracks, "Rejected steps allowed per iteration (0 for default)")
	fs.Int("dims", defaults.Grid.Dims, "Indirect dimensionality (0 to follow the schedule)")
	fs.Int("x-size", defaults.Grid.X, "Output size along x (0 to infer)")
	fs.Int("y-size", defaults.Grid.Y, "Output size along y (0 to infer)")
	fs.Int("z-size", defaults.Grid.Z, "Output size along z (0 to infer)")
	fs.Float64("jx", defaults.Deconv.X.J, "Coupling constant along x in Hz")
	fs.Float64("wx", defaults.Deconv.X.W, "Linewidth along x in Hz")
	fs.Float64("swx", defaults.Deconv.X.SW, "Sweep width along x in Hz (0 for header)")
	fs.Float64("jy", defaults.Deconv.Y.J, "Coupling constant along y in Hz")
	fs.Float64("wy", defaults.Deconv.Y.W, "Linewidth along y in Hz")
	fs.Float64("swy", defaults.Deconv.Y.SW, "Sweep width along y in Hz (0 for header)")
	fs.Float64("jz", defaults.Deconv.Z.J, "Coupling constant along z in Hz")
	fs.Float64("wz", defaults.Deconv.Z.W, "Linewidth along z in Hz")
	fs.Float64("swz", defaults.Deconv.Z.SW, "Sweep width along z in Hz (0 for header)")
	fs.Int("threads", defaults.Runtime.Threads, "Slices reconstructed concurrently")
	fs.Int("memory-limit-mb", defaults.Runtime.MemoryLimitMB, "Workspace memory budget in MiB (0 for unlimited)")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		fs := opts.Cmd.Flags()
		for _, b := range bindings {
			f := fs.Lookup(b.flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(b.key, f); err != nil {
				return Config{}, fmt.Errorf("bind flags: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CAMERA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("camera")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.input", c.Paths.Input)
	v.SetDefault("paths.output", c.Paths.Output)
	v.SetDefault("paths.schedule", c.Paths.Schedule)
	v.SetDefault("paths.iter_log", c.Paths.IterLog)
	v.SetDefault("paths.report", c.Paths.Report)
	v.SetDefault("recon.method", c.Recon.Method)
	v.SetDefault("recon.layout", c.Recon.Layout)
	v.SetDefault("recon.iters", c.Recon.Iters)
	v.SetDefault("recon.delta", c.Recon.Delta)
	v.SetDefault("recon.sigma", c.Recon.Sigma)
	v.SetDefault("recon.lambda", c.Recon.Lambda)
	v.SetDefault("recon.accel", c.Recon.Accel)
	v.SetDefault("recon.max_backtracks", c.Recon.MaxBacktracks)
	v.SetDefault("grid.dims", c.Grid.Dims)
	v.SetDefault("grid.x", c.Grid.X)
	v.SetDefault("grid.y", c.Grid.Y)
	v.SetDefault("grid.z", c.Grid.Z)
	for name, k := range map[string]KernelConfig{"x": c.Deconv.X, "y": c.Deconv.Y, "z": c.Deconv.Z} {
		v.SetDefault("deconv."+name+".j", k.J)
		v.SetDefault("deconv."+name+".w", k.W)
		v.SetDefault("deconv."+name+".sw", k.SW)
	}
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.memory_limit_mb", c.Runtime.MemoryLimitMB)
	v.SetDefault("log_level", c.LogLevel)
}

// Validate enforces the bounds the reconstruction relies on.
func (c Config) Validate() error {
	r, g := c.Recon, c.Grid

	switch {
	case g.Dims < 0 || g.Dims > 3:
		return fmt.Errorf("invalid dimensionality %d (expected 1, 2 or 3)", g.Dims)
	case r.Iters < 1:
		return fmt.Errorf("invalid iteration count %d", r.Iters)
	case c.Runtime.Threads < 1 || c.Runtime.Threads > MaxThreads:
		return fmt.Errorf("invalid thread count %d (expected 1..%d)", c.Runtime.Threads, MaxThreads)
	case !(r.Delta > 0):
		return fmt.Errorf("invalid background %g (must be positive)", r.Delta)
	case !(r.Sigma > 0):
		return fmt.Errorf("invalid noise estimate %g (must be positive)", r.Sigma)
	case r.Lambda < 0:
		return fmt.Errorf("invalid lagrange multiplier %g (must be non-negative)", r.Lambda)
	case r.Accel < 1:
		return fmt.Errorf("invalid acceleration %g (must be at least 1)", r.Accel)
	case r.MaxBacktracks < 0:
		return fmt.Errorf("invalid backtrack limit %d", r.MaxBacktracks)
	case c.Runtime.MemoryLimitMB < 0:
		return fmt.Errorf("invalid memory limit %d MiB", c.Runtime.MemoryLimitMB)
	}

	for i, n := range []int{g.X, g.Y, g.Z} {
		if n != 0 && n < 4 {
			return fmt.Errorf("invalid %c-dimension length %d (expected 0 or at least 4)", "xyz"[i], n)
		}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// ParseLogLevel maps a level name to its slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", s)
	}
}

// Save writes c to path as YAML. An existing file is only replaced when
// overwrite is set.
func Save(path string, c Config, overwrite bool) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flag |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write config file: %w", err)
	}

	return f.Close()
}
