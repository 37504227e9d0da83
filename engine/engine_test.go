package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/gradcomm/config"
	"github.com/unixpickle/gradcomm/tensor"
	"golang.org/x/sync/errgroup"
)

func newTestWorld(t *testing.T, cfg config.Config) *World {
	w, err := NewWorld(cfg)
	require.NoError(t, err)
	for _, e := range w.Engines() {
		require.NoError(t, e.Init())
	}
	return w
}

// runRanks calls f for every rank concurrently.
func runRanks(t *testing.T, w *World, f func(e *Engine) error) {
	var g errgroup.Group
	for _, e := range w.Engines() {
		e := e
		g.Go(func() error {
			if err := f(e); err != nil {
				return fmt.Errorf("rank %d: %w", e.Rank(), err)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func allreduceSym(t *testing.T, e *Engine, x *tensor.Tensor) AllreduceFunc {
	sym, ok := e.Symbol(SymbolName(AllreducePrefix, x.Type()))
	require.True(t, ok, x.Type())
	return sym.(AllreduceFunc)
}

func TestSymbols(t *testing.T) {
	cfg := config.Default()
	w, err := NewWorld(cfg)
	require.NoError(t, err)
	e := w.Engine(0)

	_, ok := e.Symbol("allreduce_async_cpu_FloatTensor")
	assert.True(t, ok)
	_, ok = e.Symbol("broadcast_async_cpu_HalfTensor")
	assert.True(t, ok)
	_, ok = e.Symbol("allgather_async_cpu_BoolTensor")
	assert.False(t, ok)
	_, ok = e.Symbol("allreduce_async_gpu_FloatTensor")
	assert.False(t, ok)

	cfg.FP16 = false
	cfg.GPUs = 2
	w, err = NewWorld(cfg)
	require.NoError(t, err)
	_, ok = w.Engine(0).Symbol("allreduce_async_gpu_FloatTensor")
	assert.True(t, ok)
	_, ok = w.Engine(0).Symbol("allreduce_async_cpu_HalfTensor")
	assert.False(t, ok)
}

func TestAllreduceSum(t *testing.T) {
	for _, algo := range []string{"naive", "tree", "stream", "ring"} {
		t.Run(algo, func(t *testing.T) {
			cfg := config.WithHosts(2, 3)
			cfg.AllreduceAlgo = algo
			w := newTestWorld(t, cfg)
			runRanks(t, w, func(e *Engine) error {
				x := tensor.FromFloat64s(tensor.Float32, tensor.CPU, []int{2, 2},
					[]float64{1, 2, 3, float64(e.Rank())})
				out := x.Like()
				h, err := allreduceSym(t, e, x)(x, out, 1, "", Sum)
				if err != nil {
					return err
				}
				if err := e.WaitAndClear(h); err != nil {
					return err
				}
				if !assert.Equal(t, []float64{5, 10, 15, 10}, out.Float64s()) {
					return errors.New("wrong result")
				}
				assert.Equal(t, []float64{1, 2, 3, float64(e.Rank())}, x.Float64s())
				return nil
			})
		})
	}
}

func TestAllreduceDivisor(t *testing.T) {
	w := newTestWorld(t, config.WithHosts(4))
	runRanks(t, w, func(e *Engine) error {
		x := tensor.FromFloat64s(tensor.Float64, tensor.CPU, []int{2}, []float64{float64(e.Rank()), 1})
		h, err := allreduceSym(t, e, x)(x, x, 4, "avg", Sum)
		if err != nil {
			return err
		}
		if err := e.WaitAndClear(h); err != nil {
			return err
		}
		assert.Equal(t, []float64{1.5, 1}, x.Float64s())
		return nil
	})
}

func TestAllreduceMismatch(t *testing.T) {
	w := newTestWorld(t, config.WithHosts(2))
	runRanks(t, w, func(e *Engine) error {
		x := tensor.New(tensor.Float32, tensor.CPU, 2+e.Rank())
		h, err := allreduceSym(t, e, x)(x, x.Like(), 1, "grad", Sum)
		if err != nil {
			return err
		}
		err = e.WaitAndClear(h)
		assert.True(t, errors.Is(err, ErrMismatch), "%v", err)
		return nil
	})
}

func TestAllreduceInvalid(t *testing.T) {
	w := newTestWorld(t, config.WithHosts(2))
	e := w.Engine(0)
	x := tensor.New(tensor.Float32, tensor.CPU, 2, 3)
	fn := allreduceSym(t, e, x)

	_, err := fn(x, x.Like(), 1, "", Average)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = fn(x, x.Like(), 0, "", Sum)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = fn(x.Transpose(), x.Transpose().Contiguous(), 1, "", Sum)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = fn(x, tensor.New(tensor.Float32, tensor.CPU, 6), 1, "", Sum)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = fn(x.Cast(tensor.Float64), x.Cast(tensor.Float64), 1, "", Sum)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 0, e.Pending())

	fresh, err := NewWorld(config.WithHosts(2))
	require.NoError(t, err)
	_, err = allreduceSym(t, fresh.Engine(0), x)(x, x.Like(), 1, "", Sum)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestAdasum(t *testing.T) {
	w := newTestWorld(t, config.WithHosts(2, 2))
	runRanks(t, w, func(e *Engine) error {
		// Ranks 0 and 1 are parallel, 2 and 3 are parallel,
		// and the two pairs are orthogonal.
		vec := []float64{1, 0}
		if e.Rank() >= 2 {
			vec = []float64{0, 1}
		}
		x := tensor.FromFloat64s(tensor.Float64, tensor.CPU, []int{2}, vec)
		out := x.Like()
		h, err := allreduceSym(t, e, x)(x, out, 1, "", Adasum)
		if err != nil {
			return err
		}
		if err := e.WaitAndClear(h); err != nil {
			return err
		}
		assert.InDeltaSlice(t, []float64{1, 1}, out.Float64s(), 1e-12)
		return nil
	})

	w = newTestWorld(t, config.WithHosts(3))
	runRanks(t, w, func(e *Engine) error {
		x := tensor.New(tensor.Float64, tensor.CPU, 2)
		h, err := allreduceSym(t, e, x)(x, x.Like(), 1, "", Adasum)
		if err != nil {
			return err
		}
		assert.ErrorIs(t, e.WaitAndClear(h), ErrNotImplemented)
		return nil
	})
}

func TestHierarchicalAdasum(t *testing.T) {
	cfg := config.WithHosts(2, 2)
	cfg.GPUs = 2
	cfg.Built.NCCL = true
	w := newTestWorld(t, cfg)
	runRanks(t, w, func(e *Engine) error {
		vec := []float64{1, 0}
		if e.Rank() >= 2 {
			vec = []float64{0, 1}
		}
		x := tensor.FromFloat64s(tensor.Float32, tensor.GPU(e.LocalRank()), []int{2}, vec)
		out := x.Like()
		h, err := allreduceSym(t, e, x)(x, out, e.LocalSize(), "", Adasum)
		if err != nil {
			return err
		}
		if err := e.WaitAndClear(h); err != nil {
			return err
		}
		// Host sums are [2, 0] and [0, 2], which are
		// orthogonal, so Adasum adds them.
		assert.Equal(t, []float64{1, 1}, out.Float64s())
		return nil
	})
}

func TestAllgather(t *testing.T) {
	w := newTestWorld(t, config.WithHosts(3))
	runRanks(t, w, func(e *Engine) error {
		rows := e.Rank() + 1
		values := make([]float64, rows*2)
		for i := range values {
			values[i] = float64(e.Rank())
		}
		x := tensor.FromFloat64s(tensor.Int32, tensor.CPU, []int{rows, 2}, values)
		out := x.Empty()
		sym, _ := e.Symbol(SymbolName(AllgatherPrefix, x.Type()))
		h, err := sym.(AllgatherFunc)(x, out, "gather")
		if err != nil {
			return err
		}
		if err := e.WaitAndClear(h); err != nil {
			return err
		}
		assert.Equal(t, []int{6, 2}, out.Shape())
		assert.Equal(t, []float64{0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2}, out.Float64s())
		return nil
	})
}

func TestBroadcast(t *testing.T) {
	w := newTestWorld(t, config.WithHosts(2, 3))
	runRanks(t, w, func(e *Engine) error {
		x := tensor.FromFloat64s(tensor.Float32, tensor.CPU, []int{3}, []float64{float64(e.Rank()), 1, 2})
		sym, _ := e.Symbol(SymbolName(BroadcastPrefix, x.Type()))
		h, err := sym.(BroadcastFunc)(x, x, 3, "")
		if err != nil {
			return err
		}
		if err := e.WaitAndClear(h); err != nil {
			return err
		}
		assert.Equal(t, []float64{3, 1, 2}, x.Float64s())
		return nil
	})
}

func TestPollAndHandles(t *testing.T) {
	w := newTestWorld(t, config.WithHosts(2))
	e0, e1 := w.Engine(0), w.Engine(1)
	x0 := tensor.Ones(tensor.Float32, tensor.CPU, 3)
	x1 := tensor.Ones(tensor.Float32, tensor.CPU, 3)

	h0, err := allreduceSym(t, e0, x0)(x0, x0, 1, "ones", Sum)
	require.NoError(t, err)
	done, err := e0.Poll(h0)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, e0.Pending())

	h1, err := allreduceSym(t, e1, x1)(x1, x1, 1, "ones", Sum)
	require.NoError(t, err)
	require.NoError(t, e1.WaitAndClear(h1))
	require.NoError(t, e0.WaitAndClear(h0))
	assert.Equal(t, []float64{2, 2, 2}, x0.Float64s())

	_, err = e0.Poll(h0)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.ErrorIs(t, e0.WaitAndClear(h0), ErrUnknownHandle)
	assert.Equal(t, 0, e0.Pending())
}

func TestJoin(t *testing.T) {
	w := newTestWorld(t, config.WithHosts(3))
	results := make([]int, 3)
	runRanks(t, w, func(e *Engine) error {
		// Rank 2 runs out of data first and joins right
		// away; the others still reduce among themselves.
		if e.Rank() != 2 {
			x := tensor.Ones(tensor.Float64, tensor.CPU, 2)
			h, err := allreduceSym(t, e, x)(x, x, 1, "late", Sum)
			if err != nil {
				return err
			}
			if err := e.WaitAndClear(h); err != nil {
				return err
			}
			assert.Equal(t, []float64{2, 2}, x.Float64s())

			gathered := x.Empty()
			sym, _ := e.Symbol(SymbolName(AllgatherPrefix, x.Type()))
			h, err = sym.(AllgatherFunc)(x, gathered, "rows")
			if err != nil {
				return err
			}
			if err := e.WaitAndClear(h); err != nil {
				return err
			}
			assert.Equal(t, []int{4}, gathered.Shape())
		}
		if e.Rank() == 0 {
			// Make rank 0 the last to join.
			for {
				w.lock.Lock()
				count := w.join.count
				w.lock.Unlock()
				if count == 2 {
					break
				}
				time.Sleep(time.Millisecond)
			}
		}
		last, err := e.Join(tensor.CPU)
		results[e.Rank()] = last
		return err
	})
	assert.Equal(t, []int{0, 0, 0}, results)
}

func TestShutdown(t *testing.T) {
	w := newTestWorld(t, config.WithHosts(2))
	e0, e1 := w.Engine(0), w.Engine(1)
	x := tensor.Ones(tensor.Float32, tensor.CPU, 3)
	h, err := allreduceSym(t, e0, x)(x, x, 1, "", Sum)
	require.NoError(t, err)

	before := testutil.ToFloat64(opsTotal.WithLabelValues("allreduce", "shutdown"))
	require.NoError(t, e1.Shutdown())
	assert.ErrorIs(t, e0.WaitAndClear(h), ErrShutdown)
	assert.Equal(t, before+1, testutil.ToFloat64(opsTotal.WithLabelValues("allreduce", "shutdown")))

	_, err = allreduceSym(t, e0, x)(x, x, 1, "", Sum)
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = allreduceSym(t, e1, x)(x, x, 1, "", Sum)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, e1.Init(), ErrShutdown)
	assert.ErrorIs(t, e1.Shutdown(), ErrNotInitialized)
}

func TestTopology(t *testing.T) {
	topo := NewTopology([]int{2, 3})
	assert.Equal(t, 5, topo.Size())
	assert.Equal(t, 1, topo.Host(3))
	assert.Equal(t, 1, topo.LocalRank(3))
	assert.Equal(t, 3, topo.LocalSize(4))
	assert.False(t, topo.IsHomogeneous())
	assert.Equal(t, [][]int{{0, 1}, {2, 3, 4}}, topo.LocalGroups())
	assert.Equal(t, [][]int{{0, 2}, {1, 3}, {4}}, topo.CrossGroups())
	assert.True(t, NewTopology([]int{2, 2}).IsHomogeneous())

	w1, err := NewWorld(config.WithHosts(2, 3))
	require.NoError(t, err)
	w2, err := NewWorld(config.WithHosts(2, 3))
	require.NoError(t, err)
	assert.Equal(t, topo, w1.Topology())
	assert.Equal(t, 5, w1.Size())
	assert.NotEqual(t, w1.ID(), w2.ID())
}

func TestJoinWithPendingOp(t *testing.T) {
	w := newTestWorld(t, config.WithHosts(2))
	e0, e1 := w.Engine(0), w.Engine(1)
	x := tensor.Ones(tensor.Float32, tensor.CPU, 3)
	h, err := allreduceSym(t, e0, x)(x, x, 1, "waiting", Sum)
	require.NoError(t, err)

	// Rank 0's allreduce has not been dispatched, since
	// rank 1 has not submitted it yet.
	_, err = e0.Join(tensor.CPU)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "still pending")

	y := tensor.Ones(tensor.Float32, tensor.CPU, 3)
	h1, err := allreduceSym(t, e1, y)(y, y, 1, "waiting", Sum)
	require.NoError(t, err)
	require.NoError(t, e1.WaitAndClear(h1))
	require.NoError(t, e0.WaitAndClear(h))
	assert.Equal(t, []float64{2, 2, 2}, x.Float64s())
}
