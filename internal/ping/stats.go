package ping

import (
	"math"
	"time"
)

// Stats is a snapshot of a session's counters.
type Stats struct {
	Destination   string        `json:"destination"`
	Identifier    uint16        `json:"identifier"`
	State         string        `json:"state"`
	Transmitted   int           `json:"transmitted"`
	Received      int           `json:"received"`
	Discarded     int           `json:"discarded"`
	BytesReceived int64         `json:"bytes_received"`
	PacketLoss    float64       `json:"packet_loss_percent"`
	MinRTT        time.Duration `json:"min_rtt_ns"`
	AvgRTT        time.Duration `json:"avg_rtt_ns"`
	MaxRTT        time.Duration `json:"max_rtt_ns"`
	StdDevRTT     time.Duration `json:"stddev_rtt_ns"`
}

// tally accumulates per-session counters. It is not safe for concurrent use;
// Session guards it with its mutex.
type tally struct {
	transmitted int
	received    int
	discarded   int
	bytes       int64

	minRTT time.Duration
	maxRTT time.Duration
	sum    float64
	sumSq  float64
}

func (t *tally) sent() {
	t.transmitted++
}

func (t *tally) discard() {
	t.discarded++
}

func (t *tally) reply(bytes int, rtt time.Duration) {
	if t.received == 0 || rtt < t.minRTT {
		t.minRTT = rtt
	}
	if rtt > t.maxRTT {
		t.maxRTT = rtt
	}
	t.received++
	t.bytes += int64(bytes)

	f := float64(rtt)
	t.sum += f
	t.sumSq += f * f
}

func (t *tally) snapshot() Stats {
	s := Stats{
		Transmitted:   t.transmitted,
		Received:      t.received,
		Discarded:     t.discarded,
		BytesReceived: t.bytes,
		MinRTT:        t.minRTT,
		MaxRTT:        t.maxRTT,
	}

	if t.transmitted > 0 {
		// Late or duplicate replies can push received past transmitted.
		loss := float64(t.transmitted-t.received) / float64(t.transmitted) * 100
		s.PacketLoss = math.Max(loss, 0)
	}

	if t.received > 0 {
		n := float64(t.received)
		mean := t.sum / n
		s.AvgRTT = time.Duration(mean)
		if variance := t.sumSq/n - mean*mean; variance > 0 {
			s.StdDevRTT = time.Duration(math.Sqrt(variance))
		}
	}

	return s
}
