package core

// StateRole said the state role of raft.
type StateRole int

// Role enum constants.
const (
	RoleFollower StateRole = iota
	RolePreCandidate
	RoleCandidate
	RoleLeader
)

var stateRoleString = []string{
	"Follower",
	"PreCandidate",
	"Candidate",
	"Leader",
}

func (role StateRole) String() string {
	return stateRoleString[role]
}

// IsLeader test whether role is leader.
func (role StateRole) IsLeader() bool {
	return role == RoleLeader
}

// IsFollower test whether role is follower.
func (role StateRole) IsFollower() bool {
	return role == RoleFollower
}

// IsCandidate test whether role is candidate or pre-candidate.
func (role StateRole) IsCandidate() bool {
	return role == RoleCandidate || role == RolePreCandidate
}

// Status gives some raft runtime information.
type Status struct {
	ID           uint64
	Term         uint64
	Role         StateRole
	LeaderID     uint64
	LastLogIndex uint64
	CommitIndex  uint64
}
