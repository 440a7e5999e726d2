package conf

import (
	"fmt"
	"math"
)

// Invalid value for raft.
const (
	InvalidIndex uint64 = 0
	InvalidTerm  uint64 = 0
	InvalidID    uint64 = math.MaxUint64
)

// Timing defaults, all in milliseconds.
const (
	DefaultElectionTimeoutMin uint64 = 150
	DefaultElectionTimeoutMax uint64 = 300
	DefaultHeartbeatInterval  uint64 = 50

	DefaultMaxEntriesPerAppend = 64
)

// Config given information to build raft algorithm.
type Config struct {
	// ID is the identity of the local raft. ID cannot be zero or the
	// invalid id sentinel.
	ID uint64

	// Peers lists the other members of the cluster. The local id is
	// filtered out if present.
	Peers []uint64

	// ElectionTimeoutMin/Max bound the randomized election deadline
	// drawn after each reset. A follower that hears nothing from a
	// leader for the drawn duration starts a pre-vote round.
	ElectionTimeoutMin uint64
	ElectionTimeoutMax uint64

	// HeartbeatInterval is the period of leader append broadcasts.
	// It must be strictly less than ElectionTimeoutMin.
	HeartbeatInterval uint64

	// MaxEntriesPerAppend caps the entries carried by one append.
	MaxEntriesPerAppend int

	// PreVote runs the advisory pre-vote round before real elections,
	// so a node that cannot win never disrupts a healthy leader.
	PreVote bool
}

// DefaultConfig return a Config with the stock timing values and
// pre-vote enabled.
func DefaultConfig(id uint64, peers []uint64) *Config {
	return &Config{
		ID:                  id,
		Peers:               peers,
		ElectionTimeoutMin:  DefaultElectionTimeoutMin,
		ElectionTimeoutMax:  DefaultElectionTimeoutMax,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		MaxEntriesPerAppend: DefaultMaxEntriesPerAppend,
		PreVote:             true,
	}
}

// Verify check whether fields of Config are valid.
func (c *Config) Verify() error {
	if c.ID == InvalidIndex || c.ID == InvalidID {
		return fmt.Errorf("raft: config: id %d is reserved", c.ID)
	}
	if c.ElectionTimeoutMin > c.ElectionTimeoutMax {
		return fmt.Errorf("raft: config: election timeout min %d greater than max %d",
			c.ElectionTimeoutMin, c.ElectionTimeoutMax)
	}
	if c.HeartbeatInterval == 0 || c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return fmt.Errorf("raft: config: heartbeat interval %d must be in (0, %d)",
			c.HeartbeatInterval, c.ElectionTimeoutMin)
	}
	if c.MaxEntriesPerAppend < 1 {
		return fmt.Errorf("raft: config: max entries per append %d less than 1",
			c.MaxEntriesPerAppend)
	}
	for _, peer := range c.Peers {
		if peer == InvalidIndex || peer == InvalidID {
			return fmt.Errorf("raft: config: peer id %d is reserved", peer)
		}
	}
	return nil
}
