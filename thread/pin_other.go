//go:build !linux

package thread

// pinToNode is a no-op on platforms without sched_setaffinity. Pinning
// is a locality optimization; correctness never depends on it.
func pinToNode(node, nodes int) error {
	return nil
}
