package session

import "github.com/danmuck/kdlink/internal/protocol/packet"

// State is the mutable protocol state of one link.
type State struct {
	// NextOutgoingID carries the sync bit until the first acknowledged send.
	NextOutgoingID     uint32
	ExpectedIncomingID uint32
	RetriesRemaining   int
	RetryBudget        int
	DebuggerPresent    bool
	// LastDeliveredSync is set when the last accepted data packet carried the sync bit.
	LastDeliveredSync bool
}

func newState(budget int) State {
	return State{
		NextOutgoingID:     packet.InitialID | packet.SyncBit,
		ExpectedIncomingID: packet.InitialID,
		RetriesRemaining:   budget,
		RetryBudget:        budget,
		DebuggerPresent:    true,
	}
}

// reinitialize is the state after retry exhaustion: ids restart with sync.
func (s *State) reinitialize() {
	s.NextOutgoingID = packet.InitialID | packet.SyncBit
	s.ExpectedIncomingID = packet.InitialID
	s.RetriesRemaining = s.RetryBudget
	s.LastDeliveredSync = false
}

// resetIDs is the state after a protocol RESET: both ids at INITIAL, no sync.
func (s *State) resetIDs() {
	s.NextOutgoingID = packet.InitialID
	s.ExpectedIncomingID = packet.InitialID
	s.LastDeliveredSync = false
}
