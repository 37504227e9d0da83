package engine

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/collcomm"
	"github.com/unixpickle/gradcomm/collcomm/allreduce"
	"github.com/unixpickle/gradcomm/tensor"
	"k8s.io/klog/v2"
)

// execute runs a negotiated operation and completes every
// participating request.
//
// Ranks without a request have joined; devices holds the
// device each of them joined with.
func (w *World) execute(reqs []*request, devices []tensor.Device) {
	var live []*request
	for _, req := range reqs {
		if req != nil {
			live = append(live, req)
		}
	}
	ref := live[0]
	start := ref.submitted
	for _, req := range live[1:] {
		if req.submitted.Before(start) {
			start = req.submitted
		}
	}

	var err error
	for _, req := range live[1:] {
		if err = ref.matches(req); err != nil {
			break
		}
	}
	var bytes int64
	if err == nil {
		switch ref.kind {
		case kindAllreduce:
			bytes, err = w.executeAllreduce(ref, reqs, devices)
		case kindAllgather:
			bytes = w.executeAllgather(ref, reqs, devices)
		case kindBroadcast:
			bytes, err = w.executeBroadcast(ref, reqs)
		}
	}

	kind := ref.kind.String()
	status := "ok"
	if err != nil {
		status = "error"
		klog.V(1).Infof("world %s: %s %q failed: %v", w.id, kind, ref.name, err)
	} else {
		klog.V(2).Infof("world %s: %s %q done (%d ranks, %d bytes)", w.id, kind, ref.name,
			len(live), bytes)
	}
	bytesTotal.WithLabelValues(kind).Add(float64(bytes))
	opDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	for _, req := range live {
		opsTotal.WithLabelValues(kind, status).Inc()
		req.finish(err)
	}
}

func (w *World) executeAllreduce(ref *request, reqs []*request,
	devices []tensor.Device) (int64, error) {
	vectors := make([][]float64, len(reqs))
	for rank, req := range reqs {
		if req != nil {
			vectors[rank] = req.input.Float64s()
		} else {
			vectors[rank] = tensor.New(ref.input.DType(), devices[rank], ref.input.Shape()...).Float64s()
		}
	}

	results := make([][]float64, len(reqs))
	network := collcomm.NewMemNetwork()
	switch ref.op {
	case Sum:
		w.spawn(network, [][]int{w.allRanks()}, func(c *collcomm.Comms, rank int) {
			results[rank] = w.allreducer.Allreduce(c, vectors[rank], collcomm.Sum)
		})
	case Adasum:
		if !ref.input.Device().IsCPU() && w.cfg.Built.NCCL {
			if err := w.hierarchicalAdasum(network, vectors, results); err != nil {
				return 0, err
			}
		} else {
			if !allreduce.PowerOfTwo(w.Size()) {
				return 0, errors.Wrapf(ErrNotImplemented, "%q: Adasum requires a power of 2 ranks, got %d",
					ref.name, w.Size())
			}
			w.spawn(network, [][]int{w.allRanks()}, func(c *collcomm.Comms, rank int) {
				results[rank] = allreduce.DoublingAllreducer{}.Allreduce(c, vectors[rank], collcomm.Adasum)
			})
		}
	default:
		return 0, errors.Wrapf(ErrInvalidArgument, "%q: engine cannot execute %s", ref.name, ref.op)
	}

	for rank, req := range reqs {
		if req == nil {
			continue
		}
		res := results[rank]
		if req.divisor != 1 {
			scaled := make([]float64, len(res))
			for i, x := range res {
				scaled[i] = x / float64(req.divisor)
			}
			res = scaled
		}
		req.output.SetFloat64s(res)
	}
	return network.BytesSent(), nil
}

// hierarchicalAdasum sums vectors within each host and then
// combines the host sums with Adasum across hosts.
func (w *World) hierarchicalAdasum(network *collcomm.MemNetwork, vectors, results [][]float64) error {
	if !w.topology.IsHomogeneous() {
		return errors.Wrap(ErrNotImplemented, "hierarchical Adasum requires a homogeneous cluster")
	}
	if !allreduce.PowerOfTwo(w.topology.NumHosts()) {
		return errors.Wrapf(ErrNotImplemented, "hierarchical Adasum requires a power of 2 hosts, got %d",
			w.topology.NumHosts())
	}
	local := make([][]float64, len(vectors))
	w.spawn(network, w.topology.LocalGroups(), func(c *collcomm.Comms, rank int) {
		local[rank] = w.allreducer.Allreduce(c, vectors[rank], collcomm.Sum)
	})
	w.spawn(network, w.topology.CrossGroups(), func(c *collcomm.Comms, rank int) {
		results[rank] = allreduce.DoublingAllreducer{}.Allreduce(c, local[rank], collcomm.Adasum)
	})
	return nil
}

func (w *World) executeAllgather(ref *request, reqs []*request, devices []tensor.Device) int64 {
	trailing := ref.input.Shape()[1:]
	vectors := make([][]float64, len(reqs))
	totalRows := 0
	for rank, req := range reqs {
		if req != nil {
			vectors[rank] = req.input.Float64s()
			totalRows += req.input.Dim(0)
		} else {
			shape := append([]int{0}, trailing...)
			vectors[rank] = tensor.New(ref.input.DType(), devices[rank], shape...).Float64s()
		}
	}

	gathered := make([][][]float64, len(reqs))
	network := collcomm.NewMemNetwork()
	w.spawn(network, [][]int{w.allRanks()}, func(c *collcomm.Comms, rank int) {
		gathered[rank] = collcomm.Allgather(c, vectors[rank])
	})

	shape := append([]int{totalRows}, trailing...)
	for rank, req := range reqs {
		if req == nil {
			continue
		}
		var concat []float64
		for _, vec := range gathered[rank] {
			concat = append(concat, vec...)
		}
		req.output.Assign(shape, concat)
	}
	return network.BytesSent()
}

func (w *World) executeBroadcast(ref *request, reqs []*request) (int64, error) {
	for rank, req := range reqs {
		if req == nil {
			return 0, errors.Wrapf(ErrNotImplemented, "%q: broadcast with joined rank %d", ref.name, rank)
		}
	}
	root := ref.root
	source := reqs[root].input.Float64s()

	results := make([][]float64, len(reqs))
	network := collcomm.NewMemNetwork()
	w.spawn(network, [][]int{w.allRanks()}, func(c *collcomm.Comms, rank int) {
		var data []float64
		if rank == root {
			data = source
		}
		results[rank] = collcomm.Broadcast(c, root, data)
	})
	for rank, req := range reqs {
		req.output.SetFloat64s(results[rank])
	}
	return network.BytesSent(), nil
}

// spawn runs f for every rank of every group, giving each
// group its own set of ports on the network.
func (w *World) spawn(network collcomm.Network, groups [][]int, f func(c *collcomm.Comms, rank int)) {
	var wg sync.WaitGroup
	for _, group := range groups {
		wg.Add(1)
		go func(group []int) {
			defer wg.Done()
			collcomm.SpawnComms(network, len(group), func(c *collcomm.Comms) {
				f(c, group[c.Index()])
			})
		}(group)
	}
	wg.Wait()
}

func (w *World) allRanks() []int {
	ranks := make([]int, w.Size())
	for i := range ranks {
		ranks[i] = i
	}
	return ranks
}
