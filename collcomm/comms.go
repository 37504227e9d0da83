// Package collcomm provides the building blocks for
// collective communication between a group of nodes.
package collcomm

import (
	"fmt"
	"sync"
)

// Comms manages a set of connections between a bunch of
// nodes.
// During a collective operation, each node has a local
// Comms object that represents its view of the world.
// A new Comms object should be used for each operation,
// thus automatically handling multiplexing.
type Comms struct {
	// Port is the current node's port.
	Port *Port

	// Ports contains ports to all the nodes in the
	// network, including the current node.
	Ports []*Port

	// Network is the network connecting the nodes.
	Network Network
}

// SpawnComms creates Comms objects for numNodes nodes and
// calls f for each node in its own Goroutine.
// It returns once every call to f has returned.
func SpawnComms(network Network, numNodes int, f func(c *Comms)) {
	ports := make([]*Port, numNodes)
	for i := range ports {
		ports[i] = NewPort()
	}
	var wg sync.WaitGroup
	for i := range ports {
		wg.Add(1)
		go func(port *Port) {
			defer wg.Done()
			f(&Comms{
				Port:    port,
				Ports:   ports,
				Network: network,
			})
		}(ports[i])
	}
	wg.Wait()
}

// Size gets the number of nodes.
func (c *Comms) Size() int {
	return len(c.Ports)
}

// Bcast sends a vector to every other node.
func (c *Comms) Bcast(vec []float64) {
	messages := make([]*Message, 0, len(c.Ports)-1)
	for _, port := range c.Ports {
		if port == c.Port {
			continue
		}
		messages = append(messages, &Message{
			Source:  c.Port,
			Dest:    port,
			Message: vec,
			Size:    vectorSize(vec),
		})
	}
	c.Network.Send(messages...)
}

// Send schedules a vector to be sent to the node at
// index dst.
func (c *Comms) Send(dst int, vec []float64) {
	c.SendMessage(dst, vec, vectorSize(vec))
}

// SendMessage sends an arbitrary payload to the node at
// index dst.
func (c *Comms) SendMessage(dst int, payload interface{}, size int) {
	c.Network.Send(&Message{
		Source:  c.Port,
		Dest:    c.Ports[dst],
		Message: payload,
		Size:    size,
	})
}

// Recv receives the next vector and the index of the
// node that sent it.
func (c *Comms) Recv() ([]float64, int) {
	res := c.Port.Recv()
	return res.Message.([]float64), c.IndexOf(res.Source)
}

// Index returns the current node's index in the list of
// nodes.
func (c *Comms) Index() int {
	return c.IndexOf(c.Port)
}

// IndexOf returns any node's index.
func (c *Comms) IndexOf(p *Port) int {
	for i, port := range c.Ports {
		if port == p {
			return i
		}
	}
	panic(fmt.Sprintf("port %p is not part of this network", p))
}

func vectorSize(vec []float64) int {
	return len(vec) * 8
}
