package worker

import "testing"

// Worker.handle's duplicate-delivery idempotency comes from jobmanager's
// guarded store transitions, so exercising it honestly needs a live
// Postgres-backed Manager and a real bus consumer group, not a mock.
func TestHandle_DuplicateDeliveryIsIdempotent_Integration(t *testing.T) {
	t.Skip("requires a live Postgres/Redis pair; see docker-compose integration suite")
}
