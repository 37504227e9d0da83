// Package config loads the layout and capabilities of a
// communication world from the environment.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/collcomm/allreduce"
)

const (
	envHosts             = "GRADCOMM_HOSTS"
	envGPUs              = "GRADCOMM_GPUS"
	envAllreduceAlgo     = "GRADCOMM_ALLREDUCE_ALGO"
	envStreamGranularity = "GRADCOMM_STREAM_GRANULARITY"
	envFP16              = "GRADCOMM_FP16"
	envController        = "GRADCOMM_CONTROLLER"
	envBuilt             = "GRADCOMM_BUILT"
	envMPIThreads        = "GRADCOMM_MPI_THREADS"
)

// Controllers that can coordinate a world.
const (
	ControllerGloo = "gloo"
	ControllerMPI  = "mpi"
)

// Built lists the transports and libraries the engine
// was built with.
type Built struct {
	MPI  bool
	Gloo bool
	NCCL bool
	DDL  bool
	MLSL bool
}

// Config describes a world of ranks.
type Config struct {
	// Hosts holds the number of ranks on each host.
	// Ranks are numbered host by host.
	Hosts []int

	// GPUs is the number of GPUs on every host.
	// If it is zero, GPU tensors are not supported.
	GPUs int

	// AllreduceAlgo names the algorithm used for Sum
	// reductions (see allreduce.ByName).
	AllreduceAlgo     string
	StreamGranularity int

	// FP16 enables half-precision collectives.
	FP16 bool

	Controller string
	Built      Built

	MPIThreads bool
}

// Default returns a configuration for a single rank with
// no GPUs.
func Default() Config {
	return Config{
		Hosts:             []int{1},
		AllreduceAlgo:     "tree",
		StreamGranularity: 1,
		FP16:              true,
		Controller:        ControllerGloo,
		Built:             Built{Gloo: true},
	}
}

// WithHosts returns a copy of the default configuration
// with the given ranks per host.
func WithHosts(hosts ...int) Config {
	cfg := Default()
	cfg.Hosts = append([]int{}, hosts...)
	return cfg
}

// Load reads configuration from environment variables on
// top of Default.
func Load() (Config, error) {
	cfg := Default()

	if v := os.Getenv(envHosts); v != "" {
		hosts, err := parseInts(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "parse %s", envHosts)
		}
		cfg.Hosts = hosts
	}
	if v := os.Getenv(envGPUs); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "parse %s", envGPUs)
		}
		cfg.GPUs = n
	}
	if v := os.Getenv(envAllreduceAlgo); v != "" {
		cfg.AllreduceAlgo = strings.ToLower(v)
	}
	if v := os.Getenv(envStreamGranularity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "parse %s", envStreamGranularity)
		}
		cfg.StreamGranularity = n
	}
	if v := os.Getenv(envFP16); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "parse %s", envFP16)
		}
		cfg.FP16 = b
	}
	if v := os.Getenv(envController); v != "" {
		cfg.Controller = strings.ToLower(v)
	}
	if v := os.Getenv(envBuilt); v != "" {
		built, err := parseBuilt(v)
		if err != nil {
			return cfg, err
		}
		cfg.Built = built
	}
	if v := os.Getenv(envMPIThreads); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.Wrapf(err, "parse %s", envMPIThreads)
		}
		cfg.MPIThreads = b
	}

	return cfg, cfg.Validate()
}

// Validate checks that the configuration describes a
// usable world.
func (c Config) Validate() error {
	if len(c.Hosts) == 0 {
		return errors.New("at least one host is required")
	}
	for i, n := range c.Hosts {
		if n <= 0 {
			return errors.Errorf("host %d has %d ranks", i, n)
		}
	}
	if c.GPUs < 0 {
		return errors.Errorf("negative GPU count %d", c.GPUs)
	}
	if _, err := allreduce.ByName(c.AllreduceAlgo, c.StreamGranularity); err != nil {
		return err
	}
	switch c.Controller {
	case ControllerGloo:
		if !c.Built.Gloo {
			return errors.New("gloo controller requested but gloo is not built")
		}
	case ControllerMPI:
		if !c.Built.MPI {
			return errors.New("mpi controller requested but mpi is not built")
		}
	default:
		return errors.Errorf("unknown controller %q", c.Controller)
	}
	return nil
}

// Size returns the total number of ranks.
func (c Config) Size() int {
	var n int
	for _, x := range c.Hosts {
		n += x
	}
	return n
}

func parseInts(s string) ([]int, error) {
	var res []int
	for _, field := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, nil
}

func parseBuilt(s string) (Built, error) {
	var b Built
	for _, field := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(field)) {
		case "mpi":
			b.MPI = true
		case "gloo":
			b.Gloo = true
		case "nccl":
			b.NCCL = true
		case "ddl":
			b.DDL = true
		case "mlsl":
			b.MLSL = true
		case "":
		default:
			return b, errors.Errorf("unknown library %q in %s", field, envBuilt)
		}
	}
	return b, nil
}
