//go:build linux

package thread

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinToNode restricts the calling OS thread to the CPUs assigned to the
// given node. Without a topology library the assignment is a stripe:
// CPU c belongs to node c mod numaNodes, which matches the round-robin
// core enumeration common on multi-socket Linux. Must run on the
// worker's own locked thread.
func pinToNode(node, nodes int) error {
	if nodes <= 1 {
		return nil
	}

	var set unix.CPUSet
	for cpu := 0; cpu < runtime.NumCPU(); cpu++ {
		if cpu%nodes == node%nodes {
			set.Set(cpu)
		}
	}
	if set.Count() == 0 {
		return nil
	}
	// Pid 0 targets the calling thread.
	return unix.SchedSetaffinity(0, &set)
}
