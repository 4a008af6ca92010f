package reconcile

import "testing"

// FullSync/SyncJob/VerifyIntegrity all compare a live Postgres ArchivedJob
// row against its Redis JobSnapshot mirror, so they need both real
// dependencies to exercise the drift-detection path meaningfully.
func TestFullSyncAndVerifyIntegrity_Integration(t *testing.T) {
	t.Skip("requires a live Postgres/Redis pair; see docker-compose integration suite")
}
