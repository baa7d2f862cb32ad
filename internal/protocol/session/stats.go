package session

import "sync/atomic"

// Stats counts link events. Safe for concurrent reads.
type Stats struct {
	PacketsSent     atomic.Uint64
	PacketsReceived atomic.Uint64
	BytesDiscarded  atomic.Uint64
	Retries         atomic.Uint64
	ResendsSent     atomic.Uint64
	ResendsReceived atomic.Uint64
	ChecksumErrors  atomic.Uint64
	PartialReads    atomic.Uint64
	Duplicates      atomic.Uint64
	Resets          atomic.Uint64
	Breakins        atomic.Uint64
	DebuggerAbsent  atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	BytesDiscarded  uint64 `json:"bytes_discarded"`
	Retries         uint64 `json:"retries"`
	ResendsSent     uint64 `json:"resends_sent"`
	ResendsReceived uint64 `json:"resends_received"`
	ChecksumErrors  uint64 `json:"checksum_errors"`
	PartialReads    uint64 `json:"partial_reads"`
	Duplicates      uint64 `json:"duplicates"`
	Resets          uint64 `json:"resets"`
	Breakins        uint64 `json:"breakins"`
	DebuggerAbsent  uint64 `json:"debugger_absent"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		PacketsSent:     s.PacketsSent.Load(),
		PacketsReceived: s.PacketsReceived.Load(),
		BytesDiscarded:  s.BytesDiscarded.Load(),
		Retries:         s.Retries.Load(),
		ResendsSent:     s.ResendsSent.Load(),
		ResendsReceived: s.ResendsReceived.Load(),
		ChecksumErrors:  s.ChecksumErrors.Load(),
		PartialReads:    s.PartialReads.Load(),
		Duplicates:      s.Duplicates.Load(),
		Resets:          s.Resets.Load(),
		Breakins:        s.Breakins.Load(),
		DebuggerAbsent:  s.DebuggerAbsent.Load(),
	}
}
