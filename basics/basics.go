// Package basics exposes process-wide information about
// a rank: initialization, its place in the world, and
// what the engine was built with.
package basics

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/config"
	"github.com/unixpickle/gradcomm/engine"
	"k8s.io/klog/v2"
)

// Reduction operations.
const (
	Average = engine.Average
	Sum     = engine.Sum
	Adasum  = engine.Adasum
)

// Basics answers runtime queries for one rank.
type Basics struct {
	engine *engine.Engine
}

// New creates a Basics for an engine.
func New(e *engine.Engine) *Basics {
	return &Basics{engine: e}
}

// Engine returns the underlying engine.
func (b *Basics) Engine() *engine.Engine {
	return b.engine
}

// Init initializes the rank.
func (b *Basics) Init() error {
	return b.engine.Init()
}

// Shutdown shuts down the world.
func (b *Basics) Shutdown() error {
	return b.engine.Shutdown()
}

// Size returns the number of ranks.
func (b *Basics) Size() (int, error) {
	if err := b.checkInit("size"); err != nil {
		return 0, err
	}
	return b.engine.Size(), nil
}

// LocalSize returns the number of ranks on this host.
func (b *Basics) LocalSize() (int, error) {
	if err := b.checkInit("local_size"); err != nil {
		return 0, err
	}
	return b.engine.LocalSize(), nil
}

// Rank returns this rank.
func (b *Basics) Rank() (int, error) {
	if err := b.checkInit("rank"); err != nil {
		return 0, err
	}
	return b.engine.Rank(), nil
}

// LocalRank returns this rank's index on its host.
func (b *Basics) LocalRank() (int, error) {
	if err := b.checkInit("local_rank"); err != nil {
		return 0, err
	}
	return b.engine.LocalRank(), nil
}

// IsHomogeneous checks if every host runs the same number
// of ranks.
func (b *Basics) IsHomogeneous() (bool, error) {
	if err := b.checkInit("is_homogeneous"); err != nil {
		return false, err
	}
	return b.engine.IsHomogeneous(), nil
}

// MPIThreadsSupported checks if MPI was initialized with
// multi-threading support.
func (b *Basics) MPIThreadsSupported() (bool, error) {
	if err := b.checkInit("mpi_threads_supported"); err != nil {
		return false, err
	}
	caps := b.engine.Capabilities()
	return caps.Built.MPI && caps.MPIThreads, nil
}

// MPIEnabled checks if MPI coordinates the world.
func (b *Basics) MPIEnabled() bool {
	return b.engine.Capabilities().Controller == config.ControllerMPI
}

// MPIBuilt checks if the engine was built with MPI.
func (b *Basics) MPIBuilt() bool {
	return b.engine.Capabilities().Built.MPI
}

// GlooEnabled checks if Gloo coordinates the world.
func (b *Basics) GlooEnabled() bool {
	return b.engine.Capabilities().Controller == config.ControllerGloo
}

// GlooBuilt checks if the engine was built with Gloo.
func (b *Basics) GlooBuilt() bool {
	return b.engine.Capabilities().Built.Gloo
}

// NCCLBuilt checks if the engine was built with NCCL.
func (b *Basics) NCCLBuilt() bool {
	return b.engine.Capabilities().Built.NCCL
}

// DDLBuilt checks if the engine was built with DDL.
func (b *Basics) DDLBuilt() bool {
	return b.engine.Capabilities().Built.DDL
}

// MLSLBuilt checks if the engine was built with MLSL.
func (b *Basics) MLSLBuilt() bool {
	return b.engine.Capabilities().Built.MLSL
}

// GPUAvailable checks if the host has any GPUs.
func (b *Basics) GPUAvailable() bool {
	return b.engine.Capabilities().GPUs > 0
}

// FP16Supported checks if the engine can reduce
// half-precision tensors.
func (b *Basics) FP16Supported() bool {
	return b.engine.Capabilities().FP16
}

func (b *Basics) checkInit(query string) error {
	if !b.engine.Initialized() {
		return errors.Wrap(engine.ErrNotInitialized, query)
	}
	return nil
}

var averageWarning sync.Once

// HandleAverageBackwardsCompatibility resolves the
// reduction to use from an explicit op and the deprecated
// average flag.
//
// Either may be nil. With neither, the result is Average.
func HandleAverageBackwardsCompatibility(op *engine.ReduceOp, average *bool) (engine.ReduceOp, error) {
	if op != nil {
		if average != nil {
			return 0, errors.Wrap(engine.ErrInvalidArgument,
				"the op parameter supersedes average; please provide only one of them")
		}
		return *op, nil
	}
	if average != nil {
		averageWarning.Do(func() {
			klog.Warningf("Parameter `average` has been replaced with `op` and will be removed")
		})
		if *average {
			return Average, nil
		}
		return Sum, nil
	}
	return Average, nil
}
