// Package cluster wires several raft members over an in-process
// message bus, for whole-system tests: every member runs the real
// service layer, storage adapter and codec; only the network is
// simulated.
package cluster

import (
	"sync"
	"testing"
	"time"

	"github.com/thinkermao/network-simu-go"

	"github.com/seastarlab/tidal/raft"
	"github.com/seastarlab/tidal/raft/core/conf"
	raftpd "github.com/seastarlab/tidal/raft/proto"
	"github.com/seastarlab/tidal/raft/storage"
	"github.com/seastarlab/tidal/utils/pd"
)

// Timing constants, milliseconds. The tester generously allows
// elections to complete within a second.
const (
	ElectionTimeout = 1000
	tickSize        = 10
)

// app is one cluster member: the raft service plus the bookkeeping
// the checks read.
type app struct {
	id      uint64
	handler network.Handler
	store   *storage.Memory

	rfMutex sync.Mutex // lock for rf
	rf      *raft.Raft

	logMutex  sync.Mutex
	committed map[uint64][]byte // copy of applied entries by index
	maxIndex  uint64
}

func (app *app) getRaft() *raft.Raft {
	app.rfMutex.Lock()
	defer app.rfMutex.Unlock()
	return app.rf
}

// ApplyEntry record a committed entry for the agreement checks.
func (app *app) ApplyEntry(entry *raftpd.Entry) {
	app.logMutex.Lock()
	defer app.logMutex.Unlock()

	command := make([]byte, len(entry.Command))
	copy(command, entry.Command)
	app.committed[entry.Index] = command
	if entry.Index > app.maxIndex {
		app.maxIndex = entry.Index
	}
}

// Send implements raft.Transporter over the simulated bus.
func (app *app) Send(to uint64, msg *raftpd.Message) error {
	data := pd.MustMarshal(msg)
	return app.handler.Call(int(to - 1), data)
}

func (app *app) receive(from int, data []byte) {
	rf := app.getRaft()
	if rf == nil {
		return
	}

	var msg raftpd.Message
	pd.MustUnmarshal(&msg, data)
	rf.Step(&msg)
}

func (app *app) start(peers []uint64) error {
	config := conf.DefaultConfig(app.id, peers)
	rf, err := raft.MakeRaft(config, app.store, tickSize, app, app)
	if err != nil {
		return err
	}

	app.rfMutex.Lock()
	defer app.rfMutex.Unlock()
	app.rf = rf
	return nil
}

func (app *app) shutdown() {
	app.rfMutex.Lock()
	defer app.rfMutex.Unlock()
	if app.rf != nil {
		app.rf.Kill()
		app.rf = nil
	}
}

func (app *app) logAt(index uint64) ([]byte, bool) {
	app.logMutex.Lock()
	defer app.logMutex.Unlock()
	command, ok := app.committed[index]
	return command, ok
}

// Cluster drives a full set of rafts over one simulated network.
type Cluster struct {
	t     *testing.T
	net   network.Network
	apps  []*app
	peers []uint64
}

// MakeCluster build and start num connected members.
func MakeCluster(t *testing.T, num int, unreliable bool) *Cluster {
	builder := network.CreateBuilder()
	cluster := &Cluster{t: t}

	for i := 0; i < num; i++ {
		handler := builder.AddEndpoint()
		member := &app{
			// bus endpoints count from zero; raft ids cannot
			id:        uint64(handler.ID()) + 1,
			handler:   handler,
			store:     storage.MakeMemory(),
			committed: make(map[uint64][]byte),
		}
		handler.BindReceiver(member.receive)
		cluster.apps = append(cluster.apps, member)
		cluster.peers = append(cluster.peers, member.id)
	}

	cluster.net = builder.Build()
	cluster.net.SetReliable(!unreliable)

	for i := 0; i < num; i++ {
		if err := cluster.apps[i].start(cluster.peers); err != nil {
			t.Fatalf("start member %d: %v", i, err)
		}
		cluster.Connect(i)
	}

	return cluster
}

// Cleanup kill every member.
func (cluster *Cluster) Cleanup() {
	for i := 0; i < len(cluster.apps); i++ {
		cluster.apps[i].shutdown()
	}
}

// Connect attach server i to the net.
func (cluster *Cluster) Connect(i int) {
	cluster.net.Enable(i)
}

// Disconnect detach server i from the net.
func (cluster *Cluster) Disconnect(i int) {
	cluster.net.Disable(i)
}

// Crash1 shut down a member but keep its persistent state.
func (cluster *Cluster) Crash1(i int) {
	cluster.Disconnect(i)
	cluster.apps[i].shutdown()
}

// Start1 restart a member from its surviving storage.
func (cluster *Cluster) Start1(i int) {
	cluster.apps[i].shutdown()
	if err := cluster.apps[i].start(cluster.peers); err != nil {
		cluster.t.Fatalf("restart member %d: %v", i, err)
	}
}

// GetState return the state of member i.
func (cluster *Cluster) GetState(i int) (uint64, bool) {
	return cluster.apps[i].getRaft().GetState()
}

// Propose send a command to member i.
func (cluster *Cluster) Propose(i int, command []byte) (uint64, error) {
	return cluster.apps[i].getRaft().Propose(command)
}

// CheckOneLeader check that there's exactly one leader; try a few
// times in case re-elections are needed.
func (cluster *Cluster) CheckOneLeader() int {
	for iters := 0; iters < 10; iters++ {
		time.Sleep(ElectionTimeout * time.Millisecond)

		leaders := make(map[uint64][]int)
		for i := 0; i < len(cluster.apps); i++ {
			if !cluster.net.IsEnable(i) {
				continue
			}
			if term, isLeader := cluster.GetState(i); isLeader {
				leaders[term] = append(leaders[term], i)
			}
		}

		lastTermWithLeader := uint64(0)
		found := false
		for term, members := range leaders {
			if len(members) > 1 {
				cluster.t.Fatalf("term %d has %d (>1) leaders", term, len(members))
			}
			if term >= lastTermWithLeader {
				lastTermWithLeader = term
				found = true
			}
		}

		if found {
			return leaders[lastTermWithLeader][0]
		}
	}
	cluster.t.Fatalf("expected one leader, got none")
	return -1
}

// CheckNoLeader check that no connected member claims leadership.
func (cluster *Cluster) CheckNoLeader() {
	for i := 0; i < len(cluster.apps); i++ {
		if !cluster.net.IsEnable(i) {
			continue
		}
		if _, isLeader := cluster.GetState(i); isLeader {
			cluster.t.Fatalf("expected no leader, but %d claims to be leader", i)
		}
	}
}

// CheckTerms check that every connected member agrees on the term.
func (cluster *Cluster) CheckTerms() uint64 {
	term := uint64(0)
	seen := false
	for i := 0; i < len(cluster.apps); i++ {
		if !cluster.net.IsEnable(i) {
			continue
		}
		memberTerm, _ := cluster.GetState(i)
		if !seen {
			term = memberTerm
			seen = true
		} else if term != memberTerm {
			cluster.t.Fatalf("servers disagree on term")
		}
	}
	return term
}

// Committed report how many members applied an entry at index, and
// the command they agree on.
func (cluster *Cluster) Committed(index uint64) (int, []byte) {
	count := 0
	var command []byte
	for i := 0; i < len(cluster.apps); i++ {
		value, ok := cluster.apps[i].logAt(index)
		if !ok {
			continue
		}
		if count > 0 && string(command) != string(value) {
			cluster.t.Fatalf("committed values at index %d differ: %q != %q",
				index, command, value)
		}
		count++
		command = value
	}
	return count, command
}

// One submit a command until it commits on at least expected members,
// and return its index. It retries through leader changes.
func (cluster *Cluster) One(command []byte, expected int) uint64 {
	start := time.Now()
	for time.Since(start) < 10*time.Second {
		index := uint64(0)
		for i := 0; i < len(cluster.apps); i++ {
			if !cluster.net.IsEnable(i) {
				continue
			}
			if proposed, err := cluster.Propose(i, command); err == nil {
				index = proposed
				break
			}
		}
		if index == 0 {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			count, value := cluster.Committed(index)
			if count >= expected && string(value) == string(command) {
				return index
			}
			time.Sleep(20 * time.Millisecond)
		}
		/* maybe a deposed leader; retry with whoever leads now */
	}
	cluster.t.Fatalf("one(%q) failed to reach agreement", command)
	return 0
}
