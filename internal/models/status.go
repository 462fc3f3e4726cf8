package models

import "slices"

// Status is the client-side delivery state of a message. It is derived,
// never stored.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	}
	return 0
}

// Max returns the further-advanced of two confirmed states. Failed and
// sending never win over a confirmed state.
func (s Status) Max(o Status) Status {
	if o.rank() > s.rank() {
		return o
	}
	return s
}

// DeriveStatus computes the status of a persisted message from its readBy
// set: read once every participant has read it, delivered once any
// participant other than the sender has.
func DeriveStatus(m *Message, participants []string) Status {
	if len(participants) > 0 {
		all := true
		for _, p := range participants {
			if !slices.Contains(m.ReadBy, p) {
				all = false
				break
			}
		}
		if all {
			return StatusRead
		}
	}
	for _, r := range m.ReadBy {
		if r != m.SenderID {
			return StatusDelivered
		}
	}
	return StatusSent
}
