package observability

import (
	"github.com/danmuck/kdlink/internal/protocol/session"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is anything exposing link counters, typically *session.Engine.
type StatsSource interface {
	LinkID() string
	Stats() *session.Stats
}

type linkCounter struct {
	desc  *prometheus.Desc
	value func(session.StatsSnapshot) uint64
}

// LinkCollector exports session counters at scrape time.
type LinkCollector struct {
	node     string
	src      StatsSource
	counters []linkCounter
	present  *prometheus.Desc
	presence func() bool
}

func linkDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName("kdlink", "link", name),
		help,
		[]string{"node", "link"},
		nil,
	)
}

// NewLinkCollector builds a collector for src. presence, when non-nil,
// reports whether the peer is currently considered present.
func NewLinkCollector(node string, src StatsSource, presence func() bool) *LinkCollector {
	return &LinkCollector{
		node:     node,
		src:      src,
		presence: presence,
		present:  linkDesc("peer_present", "1 while the peer answers, 0 after retry exhaustion."),
		counters: []linkCounter{
			{linkDesc("packets_sent_total", "Packets written, data and control."), func(s session.StatsSnapshot) uint64 { return s.PacketsSent }},
			{linkDesc("packets_received_total", "Packets accepted, data and control."), func(s session.StatsSnapshot) uint64 { return s.PacketsReceived }},
			{linkDesc("bytes_discarded_total", "Bytes skipped while hunting for a leader."), func(s session.StatsSnapshot) uint64 { return s.BytesDiscarded }},
			{linkDesc("retries_total", "Data packet retransmissions."), func(s session.StatsSnapshot) uint64 { return s.Retries }},
			{linkDesc("resends_sent_total", "RESEND requests written."), func(s session.StatsSnapshot) uint64 { return s.ResendsSent }},
			{linkDesc("resends_received_total", "RESEND requests received."), func(s session.StatsSnapshot) uint64 { return s.ResendsReceived }},
			{linkDesc("checksum_errors_total", "Data packets with a bad checksum."), func(s session.StatsSnapshot) uint64 { return s.ChecksumErrors }},
			{linkDesc("partial_reads_total", "Packets cut short by a timeout."), func(s session.StatsSnapshot) uint64 { return s.PartialReads }},
			{linkDesc("duplicates_total", "Duplicate data packets acknowledged and dropped."), func(s session.StatsSnapshot) uint64 { return s.Duplicates }},
			{linkDesc("resets_total", "RESET packets received."), func(s session.StatsSnapshot) uint64 { return s.Resets }},
			{linkDesc("breakins_total", "Break-in requests detected."), func(s session.StatsSnapshot) uint64 { return s.Breakins }},
			{linkDesc("debugger_absent_total", "Critical sends that exhausted the retry budget."), func(s session.StatsSnapshot) uint64 { return s.DebuggerAbsent }},
		},
	}
}

func (c *LinkCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.counters {
		ch <- m.desc
	}
	if c.presence != nil {
		ch <- c.present
	}
}

func (c *LinkCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src.Stats().Snapshot()
	link := c.src.LinkID()
	for _, m := range c.counters {
		ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(m.value(snap)), c.node, link)
	}
	if c.presence != nil {
		v := 0.0
		if c.presence() {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.present, prometheus.GaugeValue, v, c.node, link)
	}
}
