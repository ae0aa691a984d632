package conversation

import "capsules/internal/errs"

// Envelope is the wire form carried on a conversation's realtime channel.
// Exactly one payload field is set, selected by Kind. Within one channel
// envelopes are delivered in the order their rows committed.
type Envelope struct {
	Kind    string        `json:"kind"`
	Message *Message      `json:"message,omitempty"`
	Capsule *Capsule      `json:"capsule,omitempty"`
	Moment  *SharedMoment `json:"moment,omitempty"`
}

const (
	KindMessage = "message"
	KindCapsule = "capsule"
	KindMoment  = "moment"
)

// Event is an inbound envelope classified once at ingestion into a tagged
// variant, so merge logic dispatches on the variant instead of re-probing
// optional fields at every step.
type Event interface {
	isEvent()
}

// PlainMessage is a top-level message with no capsule, thread, or moment
// reference.
type PlainMessage struct {
	Message Message
}

// CapsuleMessage routes into one capsule's message list and aggregates.
type CapsuleMessage struct {
	Message   Message
	CapsuleID string
}

// ThreadMessage routes into one starter thread.
type ThreadMessage struct {
	Message  Message
	ThreadID string
}

// MomentAttachment is a message carrying a shared-moment reference. Moment
// is nil until the session resolves it.
type MomentAttachment struct {
	Message  Message
	MomentID string
	Moment   *SharedMoment
}

// CapsuleCreated announces a newly created capsule row.
type CapsuleCreated struct {
	Capsule Capsule
}

// MomentShared announces a newly created moment row.
type MomentShared struct {
	Moment SharedMoment
}

func (PlainMessage) isEvent()     {}
func (CapsuleMessage) isEvent()   {}
func (ThreadMessage) isEvent()    {}
func (MomentAttachment) isEvent() {}
func (CapsuleCreated) isEvent()   {}
func (MomentShared) isEvent()     {}

// Classify maps an envelope to its event variant. A message referencing a
// moment classifies as an attachment even when it also carries other refs;
// capsule wins over thread for the rare row that carries both.
func Classify(env Envelope) (Event, error) {
	switch env.Kind {
	case KindMessage:
		if env.Message == nil {
			return nil, errs.InvalidArg("message envelope without message payload")
		}
		msg := *env.Message
		switch {
		case msg.MomentID != nil && *msg.MomentID != "":
			return MomentAttachment{Message: msg, MomentID: *msg.MomentID}, nil
		case msg.CapsuleID != nil && *msg.CapsuleID != "":
			return CapsuleMessage{Message: msg, CapsuleID: *msg.CapsuleID}, nil
		case msg.ThreadID != nil && *msg.ThreadID != "":
			return ThreadMessage{Message: msg, ThreadID: *msg.ThreadID}, nil
		default:
			return PlainMessage{Message: msg}, nil
		}
	case KindCapsule:
		if env.Capsule == nil {
			return nil, errs.InvalidArg("capsule envelope without capsule payload")
		}
		return CapsuleCreated{Capsule: *env.Capsule}, nil
	case KindMoment:
		if env.Moment == nil {
			return nil, errs.InvalidArg("moment envelope without moment payload")
		}
		return MomentShared{Moment: *env.Moment}, nil
	default:
		return nil, errs.InvalidArg("unknown envelope kind: " + env.Kind)
	}
}
