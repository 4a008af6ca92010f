package bus

import "testing"

// PublishWithRetry and the consumer-group read loop need a live Redis
// Streams instance to exercise honestly.
func TestPublishAndConsume_Integration(t *testing.T) {
	t.Skip("requires a live Redis instance; see docker-compose integration suite")
}
