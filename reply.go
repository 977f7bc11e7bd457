package asyncmc

import (
	"github.com/pior/asyncmc/meta"
)

// ReplyKind tags a decoded reply with the operation shape it belongs to.
// Every request context records the kind it expects; delivery of a reply with
// a different kind is rejected as a sign of protocol corruption.
type ReplyKind uint8

const (
	ReplyNone ReplyKind = iota
	ReplyValue
	ReplyStored
	ReplyDeleted
	ReplyCounter
	ReplyDebug
	ReplyNoOp
)

var replyKindNames = [...]string{
	ReplyNone:    "none",
	ReplyValue:   "value",
	ReplyStored:  "stored",
	ReplyDeleted: "deleted",
	ReplyCounter: "counter",
	ReplyDebug:   "debug",
	ReplyNoOp:    "noop",
}

func (k ReplyKind) String() string {
	if int(k) < len(replyKindNames) {
		return replyKindNames[k]
	}
	return "invalid"
}

// KindForCommand maps a command code to the reply kind its response decodes to.
func KindForCommand(cmd meta.CmdType) ReplyKind {
	switch cmd {
	case meta.CmdGet:
		return ReplyValue
	case meta.CmdSet:
		return ReplyStored
	case meta.CmdDelete:
		return ReplyDeleted
	case meta.CmdArithmetic:
		return ReplyCounter
	case meta.CmdDebug:
		return ReplyDebug
	case meta.CmdNoOp:
		return ReplyNoOp
	}
	return ReplyNone
}

// Reply is a decoded, type-erased reply as delivered into a request context:
// either a protocol response tagged with its kind, or an error.
type Reply struct {
	Kind     ReplyKind
	Response *meta.Response
	Err      error
}

// DecodeInitializer configures a ReplyDecoder for the reply shape of one
// specific operation. It is bound to a request context at construction and
// looked up by the transport for each inbound reply.
type DecodeInitializer func(*ReplyDecoder)

// InitializerForCommand returns the decode initializer for a command code.
func InitializerForCommand(cmd meta.CmdType) DecodeInitializer {
	kind := KindForCommand(cmd)
	return func(d *ReplyDecoder) {
		d.Expect(kind)
	}
}

// ReplyDecoder turns raw protocol responses into typed replies.
//
// A new decoder is in discard mode: it accepts a response and drops it. This
// is the configuration used for replies whose request was canceled, so the
// reply stream stays in sync without a live context to deliver into.
type ReplyDecoder struct {
	kind    ReplyKind
	discard bool
}

func NewReplyDecoder() *ReplyDecoder {
	return &ReplyDecoder{discard: true}
}

// Expect switches the decoder out of discard mode and sets the kind that
// decoded replies will carry.
func (d *ReplyDecoder) Expect(kind ReplyKind) {
	d.kind = kind
	d.discard = false
}

// Discarding reports whether the decoder drops responses.
func (d *ReplyDecoder) Discarding() bool {
	return d.discard
}

// Decode wraps a parsed response into a typed reply. In discard mode the
// response is consumed and the reply carries no kind, so delivery attempts
// will not match any awaiting context.
func (d *ReplyDecoder) Decode(resp *meta.Response) Reply {
	if d.discard {
		return Reply{Kind: ReplyNone}
	}
	return Reply{Kind: d.kind, Response: resp}
}
