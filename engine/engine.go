// Package engine implements a communication engine that
// negotiates and executes collective operations between
// the ranks of a World.
//
// Collectives are exposed as typed entry points looked up
// by name, one per device type and element type, e.g.
// "allreduce_async_cpu_FloatTensor".
// Each entry point enqueues an operation and returns a
// Handle without blocking.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/config"
	"github.com/unixpickle/gradcomm/tensor"
	"k8s.io/klog/v2"
)

// Prefixes of the entry point names.
// The full name is the prefix followed by a tensor's type
// with dots replaced by underscores.
const (
	AllreducePrefix = "allreduce_async_"
	AllgatherPrefix = "allgather_async_"
	BroadcastPrefix = "broadcast_async_"
)

// An AllreduceFunc enqueues an allreduce of in into out.
// The reduced result is divided by divisor.
type AllreduceFunc func(in, out *tensor.Tensor, divisor int, name string, op ReduceOp) (Handle, error)

// An AllgatherFunc enqueues an allgather of in into out.
// The output is resized to fit every rank's rows.
type AllgatherFunc func(in, out *tensor.Tensor, name string) (Handle, error)

// A BroadcastFunc enqueues a broadcast of root's in into
// out on every rank.
type BroadcastFunc func(in, out *tensor.Tensor, root int, name string) (Handle, error)

// SymbolName returns the entry point name for an
// operation prefix and a tensor type string.
func SymbolName(prefix, tensorType string) string {
	return prefix + strings.ReplaceAll(tensorType, ".", "_")
}

// Capabilities describes what an engine was built and
// configured with.
type Capabilities struct {
	FP16       bool
	GPUs       int
	Built      config.Built
	Controller string
	MPIThreads bool
}

// An Engine is one rank's connection to a World.
type Engine struct {
	world   *World
	rank    int
	symbols map[string]interface{}

	lock        sync.Mutex
	initialized bool
	nextHandle  Handle
	handles     map[Handle]*request
}

func newEngine(w *World, rank int) *Engine {
	e := &Engine{
		world:   w,
		rank:    rank,
		handles: map[Handle]*request{},
	}
	e.symbols = e.exportSymbols()
	return e
}

// Init makes the rank ready to submit operations.
func (e *Engine) Init() error {
	e.world.lock.Lock()
	shutdown := e.world.shutdown
	e.world.lock.Unlock()
	if shutdown {
		return errors.Wrap(ErrShutdown, "init")
	}
	e.lock.Lock()
	e.initialized = true
	e.lock.Unlock()
	klog.V(1).Infof("world %s: rank %d initialized", e.world.id, e.rank)
	return nil
}

// Shutdown stops the whole world.
// Pending operations on every rank fail with ErrShutdown.
func (e *Engine) Shutdown() error {
	e.lock.Lock()
	if !e.initialized {
		e.lock.Unlock()
		return errors.Wrap(ErrNotInitialized, "shutdown")
	}
	e.initialized = false
	e.lock.Unlock()
	e.world.shutdownAll()
	klog.V(1).Infof("world %s: rank %d shut down", e.world.id, e.rank)
	return nil
}

// Initialized checks if Init has been called and the rank
// has not shut down.
func (e *Engine) Initialized() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.initialized
}

// Rank returns the rank of this engine.
func (e *Engine) Rank() int {
	return e.rank
}

// Size returns the number of ranks in the world.
func (e *Engine) Size() int {
	return e.world.Size()
}

// LocalRank returns this rank's index on its host.
func (e *Engine) LocalRank() int {
	return e.world.topology.LocalRank(e.rank)
}

// LocalSize returns the number of ranks on this host.
func (e *Engine) LocalSize() int {
	return e.world.topology.LocalSize(e.rank)
}

// IsHomogeneous checks if every host runs the same number
// of ranks.
func (e *Engine) IsHomogeneous() bool {
	return e.world.topology.IsHomogeneous()
}

// Capabilities returns the engine's build and
// configuration flags.
func (e *Engine) Capabilities() Capabilities {
	cfg := e.world.cfg
	return Capabilities{
		FP16:       cfg.FP16,
		GPUs:       cfg.GPUs,
		Built:      cfg.Built,
		Controller: cfg.Controller,
		MPIThreads: cfg.MPIThreads,
	}
}

// Symbol looks up an entry point by name.
//
// The result is an AllreduceFunc, AllgatherFunc, or
// BroadcastFunc.
func (e *Engine) Symbol(name string) (interface{}, bool) {
	sym, ok := e.symbols[name]
	return sym, ok
}

// Poll checks if an operation has completed without
// blocking.
func (e *Engine) Poll(h Handle) (bool, error) {
	e.lock.Lock()
	req, ok := e.handles[h]
	e.lock.Unlock()
	if !ok {
		return false, errors.Wrapf(ErrUnknownHandle, "poll %d", h)
	}
	select {
	case <-req.done:
		return true, nil
	default:
		return false, nil
	}
}

// WaitAndClear blocks until an operation completes,
// forgets its handle, and returns the operation's error.
func (e *Engine) WaitAndClear(h Handle) error {
	e.lock.Lock()
	req, ok := e.handles[h]
	e.lock.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "wait %d", h)
	}
	<-req.done
	e.lock.Lock()
	delete(e.handles, h)
	e.lock.Unlock()
	return req.err
}

// Pending returns the number of handles that have not
// been cleared.
func (e *Engine) Pending() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return len(e.handles)
}

// Join marks the rank as finished submitting operations
// and blocks until every rank has joined.
//
// While joined, the rank takes part in other ranks'
// allreduce and allgather operations with zero tensors
// on device.
// It returns the last rank to join.
func (e *Engine) Join(device tensor.Device) (int, error) {
	if !e.Initialized() {
		return 0, errors.Wrap(ErrNotInitialized, "join")
	}
	if !device.IsCPU() && int(device) >= e.world.cfg.GPUs {
		return 0, errors.Wrapf(ErrInvalidArgument, "join: device %s is not available", device)
	}
	round, err := e.world.joinRank(e.rank, device)
	if err != nil {
		return 0, err
	}
	<-round.done
	if round.err != nil {
		return 0, round.err
	}
	return round.last, nil
}

func (e *Engine) exportSymbols() map[string]interface{} {
	cfg := e.world.cfg
	devices := []tensor.Device{tensor.CPU}
	if cfg.GPUs > 0 {
		devices = append(devices, tensor.GPU(0))
	}
	symbols := map[string]interface{}{}
	for _, device := range devices {
		for _, dtype := range tensor.DTypes {
			if dtype == tensor.Bool || (dtype == tensor.Float16 && !cfg.FP16) {
				continue
			}
			typeName := tensor.New(dtype, device).Type()
			symbols[SymbolName(AllreducePrefix, typeName)] = AllreduceFunc(
				func(in, out *tensor.Tensor, divisor int, name string, op ReduceOp) (Handle, error) {
					req := &request{kind: kindAllreduce, input: in, output: out, name: name,
						divisor: divisor, op: op}
					return e.enqueue(typeName, req)
				},
			)
			symbols[SymbolName(AllgatherPrefix, typeName)] = AllgatherFunc(
				func(in, out *tensor.Tensor, name string) (Handle, error) {
					req := &request{kind: kindAllgather, input: in, output: out, name: name}
					return e.enqueue(typeName, req)
				},
			)
			symbols[SymbolName(BroadcastPrefix, typeName)] = BroadcastFunc(
				func(in, out *tensor.Tensor, root int, name string) (Handle, error) {
					req := &request{kind: kindBroadcast, input: in, output: out, name: name, root: root}
					return e.enqueue(typeName, req)
				},
			)
		}
	}
	return symbols
}

func (e *Engine) enqueue(typeName string, req *request) (Handle, error) {
	if err := e.checkRequest(typeName, req); err != nil {
		return 0, errors.Wrapf(err, "%s", req.kind)
	}

	e.lock.Lock()
	if !e.initialized {
		e.lock.Unlock()
		return 0, errors.Wrapf(ErrNotInitialized, "%s", req.kind)
	}
	e.nextHandle++
	handle := e.nextHandle
	if req.name == "" {
		req.name = fmt.Sprintf("%s.noname.%d", req.kind, handle)
	}
	req.rank = e.rank
	req.handle = handle
	req.submitted = time.Now()
	req.done = make(chan struct{})
	e.handles[handle] = req
	e.lock.Unlock()

	if err := e.world.submit(req); err != nil {
		e.lock.Lock()
		delete(e.handles, handle)
		e.lock.Unlock()
		return 0, err
	}
	klog.V(2).Infof("world %s: rank %d enqueued %s %q (%d bytes) as handle %d", e.world.ID(), e.rank,
		req.kind, req.name, req.input.NumBytes(), handle)
	return handle, nil
}

func (e *Engine) checkRequest(typeName string, req *request) error {
	if req.input == nil || req.output == nil {
		return errors.Wrap(ErrInvalidArgument, "nil tensor")
	}
	if req.input.Type() != typeName {
		return errors.Wrapf(ErrInvalidArgument, "entry point for %s called with %s",
			typeName, req.input.Type())
	}
	if req.output.DType() != req.input.DType() || req.output.Device() != req.input.Device() {
		return errors.Wrapf(ErrInvalidArgument, "output %s does not match input %s",
			req.output.Type(), req.input.Type())
	}
	if dev := req.input.Device(); !dev.IsCPU() && int(dev) >= e.world.cfg.GPUs {
		return errors.Wrapf(ErrInvalidArgument, "device %s is not available", dev)
	}
	if !req.input.IsContiguous() || !req.output.IsContiguous() {
		return errors.Wrap(ErrInvalidArgument, "tensors must be contiguous")
	}
	switch req.kind {
	case kindAllreduce:
		if req.op != Sum && req.op != Adasum {
			return errors.Wrapf(ErrInvalidArgument, "unsupported reduction %s", req.op)
		}
		if req.divisor <= 0 {
			return errors.Wrapf(ErrInvalidArgument, "divisor must be positive, got %d", req.divisor)
		}
		fallthrough
	case kindBroadcast:
		if !tensor.ShapesEqual(req.input.Shape(), req.output.Shape()) {
			return errors.Wrapf(ErrInvalidArgument, "output shape %v does not match input shape %v",
				req.output.Shape(), req.input.Shape())
		}
		if req.kind == kindBroadcast && (req.root < 0 || req.root >= e.Size()) {
			return errors.Wrapf(ErrInvalidArgument, "root rank %d out of range for %d ranks",
				req.root, e.Size())
		}
	case kindAllgather:
		if req.input.NumDims() == 0 {
			return errors.Wrap(ErrInvalidArgument, "cannot allgather a scalar")
		}
	}
	return nil
}
