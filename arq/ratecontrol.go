package arq

import "time"

// RateControl paces outbound transmissions to an average MaxSpeed,
// which is always bits/s. Every frame is charged, retransmissions and
// acks included, so the cap covers the session's whole wire share.
type RateControl struct {
	MaxSpeed int64 // Always bits/s
	nextSend time.Time
}

func NewRateControl(maxSpeed int64) *RateControl {
	return &RateControl{MaxSpeed: maxSpeed}
}

// Reserve charges n wire bytes and returns the instant the caller may
// put them on the wire. The instant never lies in the past and
// successive reservations never reorder.
func (rc *RateControl) Reserve(now time.Time, n int) time.Time {
	if rc.MaxSpeed == 0 {
		return now
	}
	at := rc.nextSend
	if at.Before(now) {
		at = now
	}
	cost := time.Duration(int64(n) * 8 * int64(time.Second) / rc.MaxSpeed)
	rc.nextSend = at.Add(cost)
	return at
}
