package engine

// Topology maps ranks onto hosts.
//
// Ranks are assigned host by host, so the ranks of one
// host are contiguous.
type Topology struct {
	hosts     []int
	hostOf    []int
	localRank []int
}

// NewTopology creates a topology with the given number of
// ranks on each host.
func NewTopology(hosts []int) *Topology {
	t := &Topology{hosts: append([]int{}, hosts...)}
	for host, n := range hosts {
		for i := 0; i < n; i++ {
			t.hostOf = append(t.hostOf, host)
			t.localRank = append(t.localRank, i)
		}
	}
	return t
}

// Size returns the total number of ranks.
func (t *Topology) Size() int {
	return len(t.hostOf)
}

// NumHosts returns the number of hosts.
func (t *Topology) NumHosts() int {
	return len(t.hosts)
}

// Host returns the host of a rank.
func (t *Topology) Host(rank int) int {
	return t.hostOf[rank]
}

// LocalRank returns a rank's index on its host.
func (t *Topology) LocalRank(rank int) int {
	return t.localRank[rank]
}

// LocalSize returns the number of ranks on a rank's host.
func (t *Topology) LocalSize(rank int) int {
	return t.hosts[t.hostOf[rank]]
}

// IsHomogeneous checks if every host runs the same number
// of ranks.
func (t *Topology) IsHomogeneous() bool {
	for _, n := range t.hosts {
		if n != t.hosts[0] {
			return false
		}
	}
	return true
}

// LocalGroups returns the ranks of each host.
func (t *Topology) LocalGroups() [][]int {
	groups := make([][]int, len(t.hosts))
	for rank, host := range t.hostOf {
		groups[host] = append(groups[host], rank)
	}
	return groups
}

// CrossGroups returns, for every local rank, the ranks on
// all hosts that share that local rank.
func (t *Topology) CrossGroups() [][]int {
	var groups [][]int
	for rank, local := range t.localRank {
		if local == len(groups) {
			groups = append(groups, nil)
		}
		groups[local] = append(groups[local], rank)
	}
	return groups
}
