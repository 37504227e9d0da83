// Package allreduce implements algorithms for summing or
// maxing vectors across many different connected nodes.
package allreduce

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/gradcomm/collcomm"
)

// Allreducer is an algorithm that can apply a ReduceFn to
// vectors that are distributed across nodes.
//
// Every node gets an identical result.
//
// It is not safe to call Allreduce() multiple times in a
// row with the same Comms object.
// A new set of ports must be used every time to avoid
// interference.
type Allreducer interface {
	Allreduce(c *collcomm.Comms, data []float64, fn collcomm.ReduceFn) []float64
}

// Names lists the algorithms accepted by ByName.
var Names = []string{"naive", "tree", "stream", "ring"}

// ByName creates an Allreducer from its configuration
// name.
//
// The granularity is only used by the stream algorithm.
func ByName(name string, granularity int) (Allreducer, error) {
	switch strings.ToLower(name) {
	case "naive":
		return NaiveAllreducer{}, nil
	case "tree":
		return TreeAllreducer{}, nil
	case "stream":
		return StreamAllreducer{Granularity: granularity}, nil
	case "ring":
		return RingAllreducer{}, nil
	default:
		return nil, errors.Errorf("unknown allreduce algorithm %q (expected one of %s)",
			name, strings.Join(Names, ", "))
	}
}

// PowerOfTwo checks if n is a positive power of two.
func PowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
