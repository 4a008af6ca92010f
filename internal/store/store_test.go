package store

import "testing"

// Every exported method here is a SQL statement against a live Postgres
// instance (guarded CAS updates, ledger double-entry writes); the teacher's
// own balance_service_test.go hits the same wall and leaves these as an
// integration-environment concern rather than mocking *sql.DB.
func TestJobLifecycleTransitions_Integration(t *testing.T) {
	t.Skip("requires a live Postgres instance; see docker-compose integration suite")
}
