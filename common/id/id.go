package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID. Only the
// first call has any effect.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID using the Snowflake algorithm.
// IDs are time-ordered and unique across distributed instances. Without a
// prior Init the generator runs as node 0.
func New() int64 {
	_ = Init(0)
	return node.Generate().Int64()
}

// NewAgentID returns an agent identifier of the form agent_<snowflake>.
func NewAgentID() string {
	return fmt.Sprintf("agent_%d", New())
}

// NewUUID returns a time-ordered UUIDv7 string. Envelope, correlation and
// decision identifiers all use this format.
func NewUUID() string {
	v, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does.
		return uuid.NewString()
	}
	return v.String()
}
