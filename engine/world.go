package engine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/gradcomm/collcomm/allreduce"
	"github.com/unixpickle/gradcomm/config"
	"github.com/unixpickle/gradcomm/tensor"
	"k8s.io/klog/v2"
)

// A World is a group of ranks running in one process.
//
// Each rank talks to the World through its own Engine.
// Operations are negotiated by name: once every rank that
// has not joined submits an operation with some name, the
// World validates the requests and executes them together.
type World struct {
	id         uuid.UUID
	cfg        config.Config
	topology   *Topology
	allreducer allreduce.Allreducer
	engines    []*Engine

	lock     sync.Mutex
	pending  map[string][]*request
	order    []string
	joined   []bool
	joinDev  []tensor.Device
	join     *joinRound
	shutdown bool
}

type joinRound struct {
	count int
	last  int
	done  chan struct{}
	err   error
}

// NewWorld creates a World and an Engine for every rank.
func NewWorld(cfg config.Config) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "new world")
	}
	reducer, err := allreduce.ByName(cfg.AllreduceAlgo, cfg.StreamGranularity)
	if err != nil {
		return nil, errors.Wrap(err, "new world")
	}
	w := &World{
		id:         uuid.New(),
		cfg:        cfg,
		topology:   NewTopology(cfg.Hosts),
		allreducer: reducer,
		pending:    map[string][]*request{},
		joined:     make([]bool, cfg.Size()),
		joinDev:    make([]tensor.Device, cfg.Size()),
		join:       &joinRound{done: make(chan struct{})},
	}
	for rank := 0; rank < cfg.Size(); rank++ {
		w.engines = append(w.engines, newEngine(w, rank))
	}
	klog.V(1).Infof("world %s: created with %d ranks on %d hosts (algo=%s)", w.id, cfg.Size(),
		len(cfg.Hosts), cfg.AllreduceAlgo)
	return w, nil
}

// ID returns a unique identifier for the world, used in
// logs.
func (w *World) ID() uuid.UUID {
	return w.id
}

// Size returns the number of ranks.
func (w *World) Size() int {
	return w.topology.Size()
}

// Topology returns the mapping of ranks to hosts.
func (w *World) Topology() *Topology {
	return w.topology
}

// Engine returns the Engine for a rank.
func (w *World) Engine(rank int) *Engine {
	return w.engines[rank]
}

// Engines returns every rank's Engine, ordered by rank.
func (w *World) Engines() []*Engine {
	return append([]*Engine{}, w.engines...)
}

func (w *World) submit(req *request) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.shutdown {
		return errors.Wrapf(ErrShutdown, "submit %s %q", req.kind, req.name)
	}
	if w.joined[req.rank] {
		return errors.Wrapf(ErrInvalidArgument, "rank %d submitted %s %q after joining",
			req.rank, req.kind, req.name)
	}

	reqs, ok := w.pending[req.name]
	if !ok {
		reqs = make([]*request, w.Size())
		w.pending[req.name] = reqs
		w.order = append(w.order, req.name)
	} else if reqs[req.rank] != nil {
		return errors.Wrapf(ErrInvalidArgument, "rank %d already has a pending operation named %q",
			req.rank, req.name)
	}
	reqs[req.rank] = req
	w.dispatchReady()
	return nil
}

// dispatchReady starts every pending operation that has
// a request or a join from every rank.
//
// The caller must hold w.lock.
func (w *World) dispatchReady() {
	for i := 0; i < len(w.order); i++ {
		name := w.order[i]
		reqs := w.pending[name]
		ready := true
		for rank, req := range reqs {
			if req == nil && !w.joined[rank] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		delete(w.pending, name)
		essentials.OrderedDelete(&w.order, i)
		i--

		// Joined ranks contribute zeros allocated on the
		// device they joined with.
		devices := make([]tensor.Device, len(reqs))
		for rank, req := range reqs {
			if req == nil {
				devices[rank] = w.joinDev[rank]
			}
		}
		go w.execute(reqs, devices)
	}
}

func (w *World) joinRank(rank int, device tensor.Device) (*joinRound, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.shutdown {
		return nil, errors.Wrap(ErrShutdown, "join")
	}
	if w.joined[rank] {
		return nil, errors.Wrapf(ErrInvalidArgument, "rank %d has already joined", rank)
	}
	for _, reqs := range w.pending {
		if reqs[rank] != nil {
			return nil, errors.Wrapf(ErrInvalidArgument,
				"rank %d cannot join with operation %q still pending", rank, reqs[rank].name)
		}
	}

	round := w.join
	w.joined[rank] = true
	w.joinDev[rank] = device
	round.count++
	round.last = rank
	klog.V(2).Infof("world %s: rank %d joined (%d/%d)", w.id, rank, round.count, w.Size())

	if round.count == w.Size() {
		for i := range w.joined {
			w.joined[i] = false
		}
		w.join = &joinRound{done: make(chan struct{})}
		close(round.done)
	} else {
		w.dispatchReady()
	}
	return round, nil
}

func (w *World) shutdownAll() {
	w.lock.Lock()
	if w.shutdown {
		w.lock.Unlock()
		return
	}
	w.shutdown = true
	var abandoned []*request
	for _, name := range w.order {
		for _, req := range w.pending[name] {
			if req != nil {
				abandoned = append(abandoned, req)
			}
		}
	}
	w.pending = map[string][]*request{}
	w.order = nil
	round := w.join
	if round.count > 0 {
		round.err = errors.Wrap(ErrShutdown, "join")
		close(round.done)
	}
	w.lock.Unlock()

	if len(abandoned) > 0 {
		klog.Warningf("world %s: shut down with %d pending requests", w.id, len(abandoned))
	}
	for _, req := range abandoned {
		opsTotal.WithLabelValues(req.kind.String(), "shutdown").Inc()
		req.finish(errors.Wrapf(ErrShutdown, "%s %q", req.kind, req.name))
	}
}
