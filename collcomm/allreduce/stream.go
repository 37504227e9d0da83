package allreduce

import (
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/gradcomm/collcomm"
)

// A StreamAllreducer splits a vector up into chunks and
// pipelines the chunks around a ring of nodes.
//
// Chunks are first reduced on their way from the first
// node back to itself, and then the reduced chunks are
// passed around the ring again so every node has them.
// Each node keeps at most one unacknowledged chunk in
// flight per phase.
type StreamAllreducer struct {
	// Granularity determines how many chunks the data is
	// split up into.
	// The actual number of chunks is multiplied by the
	// number of nodes.
	//
	// If Granularity is 0, it is treated as 1.
	Granularity int
}

// Allreduce calls fn on chunks of data at a time and
// returns a vector resulting from the final reduction.
func (s StreamAllreducer) Allreduce(c *collcomm.Comms, data []float64,
	fn collcomm.ReduceFn) []float64 {
	if len(data) == 0 || c.Size() == 1 {
		return append([]float64{}, data...)
	}
	ring := &streamRing{Comms: c}
	node := &streamNode{
		allreducer: s,
		ring:       ring,
		fn:         fn,
		root:       c.Index() == 0,
		last:       c.Index()+1 == c.Size(),
		total:      len(data),
		remaining:  data,
		reduceQ:    streamQueue{ring: ring},
		bcastQ:     streamQueue{ring: ring},
	}
	if node.root {
		for _, chunk := range s.chunkify(c.Size(), data) {
			node.reduceQ.push(&streamPacket{packetType: streamPacketReduce, payload: chunk})
		}
	}
	for !node.done() {
		node.handle(ring.Recv())
	}
	return node.reduced
}

func (s StreamAllreducer) chunkify(numNodes int, data []float64) [][]float64 {
	granularity := s.Granularity
	if granularity == 0 {
		granularity = 1
	}
	chunkSize := essentials.MaxInt(1, len(data)/(numNodes*granularity))
	var res [][]float64
	for i := 0; i < len(data); i += chunkSize {
		res = append(res, data[i:essentials.MinInt(len(data), i+chunkSize)])
	}
	return res
}

// streamNode is one node's state during a streamed
// reduction.
type streamNode struct {
	allreducer StreamAllreducer
	ring       *streamRing
	fn         collcomm.ReduceFn

	root bool
	last bool

	total     int
	remaining []float64
	reduced   []float64

	reduceQ streamQueue
	bcastQ  streamQueue
}

func (n *streamNode) done() bool {
	return len(n.reduced) == n.total && n.reduceQ.idle() && n.bcastQ.idle()
}

func (n *streamNode) handle(p *streamPacket) {
	switch p.packetType {
	case streamPacketReduce:
		n.ring.Send(&streamPacket{packetType: streamPacketReduceAck})
		if n.root {
			n.finishChunk(p.payload)
			return
		}
		if len(p.payload) > len(n.remaining) {
			panic("excess data")
		}
		chunk := n.fn(p.payload, n.remaining[:len(p.payload)])
		n.remaining = n.remaining[len(p.payload):]
		n.reduceQ.push(&streamPacket{packetType: streamPacketReduce, payload: chunk})
	case streamPacketReduceAck:
		n.reduceQ.ack()
	case streamPacketBcast:
		if n.root {
			panic("bcast came back to the root")
		}
		if len(n.reduceQ.pending) > 0 {
			panic("got bcast before reduce finished")
		}
		n.reduced = append(n.reduced, p.payload...)
		n.ring.Send(&streamPacket{packetType: streamPacketBcastAck})
		if !n.last {
			n.bcastQ.push(&streamPacket{packetType: streamPacketBcast, payload: p.payload})
		}
	case streamPacketBcastAck:
		n.bcastQ.ack()
	default:
		panic("unexpected packet type")
	}
}

// finishChunk records a fully reduced chunk at the root,
// and starts the broadcast once every chunk is in.
func (n *streamNode) finishChunk(chunk []float64) {
	n.reduced = append(n.reduced, chunk...)
	if len(n.reduced) > n.total {
		panic("excess data")
	} else if len(n.reduced) < n.total {
		return
	}
	for _, c := range n.allreducer.chunkify(n.ring.Size(), n.reduced) {
		n.bcastQ.push(&streamPacket{packetType: streamPacketBcast, payload: c})
	}
}

// streamQueue sends packets one at a time, waiting for an
// ACK between each.
type streamQueue struct {
	ring    *streamRing
	pending []*streamPacket
	blocked bool
}

func (q *streamQueue) push(p *streamPacket) {
	q.pending = append(q.pending, p)
	q.flush()
}

func (q *streamQueue) ack() {
	if !q.blocked {
		panic("unexpected ACK")
	}
	q.blocked = false
	q.flush()
}

func (q *streamQueue) idle() bool {
	return !q.blocked && len(q.pending) == 0
}

func (q *streamQueue) flush() {
	if q.blocked || len(q.pending) == 0 {
		return
	}
	q.ring.Send(q.pending[0])
	essentials.OrderedDelete(&q.pending, 0)
	q.blocked = true
}

type streamPacketType int

const (
	streamPacketReduce streamPacketType = iota
	streamPacketReduceAck
	streamPacketBcast
	streamPacketBcastAck
)

type streamPacket struct {
	packetType streamPacketType
	payload    []float64
}

func (s *streamPacket) isAck() bool {
	return s.packetType == streamPacketReduceAck || s.packetType == streamPacketBcastAck
}

func (s *streamPacket) size() int {
	return len(s.payload)*8 + 1
}

// streamRing routes packets around the ring.
type streamRing struct {
	*collcomm.Comms
}

func (r *streamRing) Recv() *streamPacket {
	return r.Port.Recv().Message.(*streamPacket)
}

// Send sends ACKs to the previous node and everything
// else to the next node.
func (r *streamRing) Send(s *streamPacket) {
	offset := 1
	if s.isAck() {
		offset = r.Size() - 1
	}
	r.SendMessage((r.Index()+offset)%r.Size(), s, s.size())
}
