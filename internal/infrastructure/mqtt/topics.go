package mqtt

import "fmt"

// TopicPrefix is the root of every topic the bridge publishes or consumes.
const TopicPrefix = "graylogic"

// Topics builds the process-level topics owned by this package.
// Per-circuit topics belong to the bridge that publishes them.
type Topics struct{}

// ClientStatus returns the retained online/offline topic for a client.
//
// Example: graylogic/system/status/pool-bridge
func (Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/system/status/%s", TopicPrefix, clientID)
}

// AllClientStatus matches every client status topic.
//
// Pattern: graylogic/system/status/+
func (Topics) AllClientStatus() string {
	return fmt.Sprintf("%s/system/status/+", TopicPrefix)
}
