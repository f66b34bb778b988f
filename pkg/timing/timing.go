// Package timing measures the connection-phase latencies the forwarding
// engine cares about: how long the original-server and alternate-upstream
// dials took. There is no separate DNS or TLS phase to time; net.Dial
// resolves internally and this proxy never speaks TLS itself.
package timing

import "time"

// DialTiming captures how long a single dial attempt took.
type DialTiming struct {
	Peer     string
	Duration time.Duration
	Err      error
}

// Timer measures a single dial's duration.
type Timer struct {
	peer  string
	start time.Time
}

// StartDial begins timing a dial to peer.
func StartDial(peer string) *Timer {
	return &Timer{peer: peer, start: time.Now()}
}

// End stops the timer and records the outcome.
func (t *Timer) End(err error) DialTiming {
	return DialTiming{
		Peer:     t.peer,
		Duration: time.Since(t.start),
		Err:      err,
	}
}

// String renders a DialTiming as a single log-friendly line.
func (d DialTiming) String() string {
	if d.Err != nil {
		return "dial " + d.Peer + " failed after " + d.Duration.String() + ": " + d.Err.Error()
	}
	return "dial " + d.Peer + " succeeded in " + d.Duration.String()
}
