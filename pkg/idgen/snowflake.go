package idgen

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique, time-ordered message ID.
// Falls back to node 0 when Init was never called (tests, tools).
func New() string {
	once.Do(func() {
		node, _ = snowflake.NewNode(0)
	})
	return node.Generate().String()
}
