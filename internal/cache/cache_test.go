package cache

import "testing"

// Client wraps go-redis calls directly; its worker/capacity/snapshot
// mirrors need a live Redis instance to exercise meaningfully.
func TestWorkerAndCapacityMirrors_Integration(t *testing.T) {
	t.Skip("requires a live Redis instance; see docker-compose integration suite")
}
