// Package stats tracks the rolling byte counters, ping samples and transfer
// progress the UI polls every few seconds.
package stats

import (
	"time"
)

// maxSamples bounds the rolling windows used for throughput averaging.
//
// Carried over from the reference implementation as-is: the window caps at
// 30 samples but get_avg_*'s divisor is the full requested duration, so
// averages read low whenever a connection is younger than that duration.
// See DESIGN.md for why this known skew was kept rather than silently
// "fixed" (the wire format and UI contract don't distinguish corrected vs.
// reference behaviour, and spec.md lists this as an open question for the
// implementer rather than a defect to resolve).
const maxSamples = 30

type sample struct {
	at   time.Time
	size uint64
}

// ConnectionStatistics accumulates per-UdpConnection traffic and latency
// counters.
type ConnectionStatistics struct {
	totalSent uint64
	totalRead uint64
	sent      []sample
	read      []sample
	pings     []time.Duration
}

// NewConnectionStatistics returns a zeroed counter set.
func NewConnectionStatistics() *ConnectionStatistics {
	return &ConnectionStatistics{}
}

// SentBytes records an outgoing packet's wire size.
func (c *ConnectionStatistics) SentBytes(n uint64) {
	c.totalSent += n
	c.sent = pushSample(c.sent, sample{at: time.Now(), size: n})
}

// ReceivedBytes records an incoming packet's wire size, before dedup is
// applied (per spec.md §4.2, a retransmitted duplicate still counts here).
func (c *ConnectionStatistics) ReceivedBytes(n uint64) {
	c.totalRead += n
	c.read = pushSample(c.read, sample{at: time.Now(), size: n})
}

func pushSample(s []sample, v sample) []sample {
	s = append(s, v)
	if len(s) > maxSamples {
		s = s[len(s)-maxSamples:]
	}
	return s
}

// NewPing records a fresh round-trip sample, taken from the elapsed time
// between sending a reliable message and receiving its confirmation.
func (c *ConnectionStatistics) NewPing(d time.Duration) {
	c.pings = append(c.pings, d)
	if len(c.pings) > maxSamples {
		c.pings = c.pings[len(c.pings)-maxSamples:]
	}
}

// LastPing returns the most recent round-trip sample, if any.
func (c *ConnectionStatistics) LastPing() *time.Duration {
	if len(c.pings) == 0 {
		return nil
	}
	d := c.pings[len(c.pings)-1]
	return &d
}

// AvgSent returns the average sent bytes/second over window, using the
// reference implementation's (intentionally preserved) scaling: the sum of
// samples within window, divided by window's full second count.
func (c *ConnectionStatistics) AvgSent(window time.Duration) uint64 {
	return avgWithin(c.sent, window)
}

// AvgReceived mirrors AvgSent for inbound traffic.
func (c *ConnectionStatistics) AvgReceived(window time.Duration) uint64 {
	return avgWithin(c.read, window)
}

func avgWithin(samples []sample, window time.Duration) uint64 {
	secs := uint64(window.Seconds())
	if secs == 0 {
		secs = 1
	}
	var sum uint64
	for i := len(samples) - 1; i >= 0; i-- {
		if time.Since(samples[i].at) > window {
			break
		}
		sum += samples[i].size
	}
	return sum / secs
}

// TotalSent returns cumulative sent bytes over the connection's lifetime.
func (c *ConnectionStatistics) TotalSent() uint64 { return c.totalSent }

// TotalReceived returns cumulative received bytes over the connection's
// lifetime.
func (c *ConnectionStatistics) TotalReceived() uint64 { return c.totalRead }
