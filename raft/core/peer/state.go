package peer

// VoteState record node voting status within one (pre-)election round.
type VoteState int

// Vote status
const (
	VoteNone VoteState = iota
	VoteReject
	VoteGranted
)

var voteStateString = []string{
	"None",
	"Reject",
	"Granted",
}

func (state VoteState) String() string {
	return voteStateString[state]
}
