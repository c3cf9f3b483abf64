package session

import (
	"fmt"
	"strconv"
)

// MsgType is the type field of a tracer message header.
type MsgType int32

const (
	MsgFail      MsgType = -1
	MsgOK        MsgType = 0
	MsgAck       MsgType = 1
	MsgSetTarget MsgType = 2
	MsgExit      MsgType = 3
	MsgFuzz      MsgType = 4
	MsgExecute   MsgType = 5
	MsgSetCtx    MsgType = 6
	MsgReset     MsgType = 7
	MsgReady     MsgType = 8
)

var msgNames = map[MsgType]string{
	MsgFail:      "FAIL",
	MsgOK:        "OK",
	MsgAck:       "ACK",
	MsgSetTarget: "SET_TGT",
	MsgExit:      "EXIT",
	MsgFuzz:      "FUZZ",
	MsgExecute:   "EXECUTE",
	MsgSetCtx:    "SET_CTX",
	MsgReset:     "RESET",
	MsgReady:     "READY",
}

func (t MsgType) String() string {
	if n, ok := msgNames[t]; ok {
		return n
	}
	return "MsgType(" + strconv.Itoa(int(t)) + ")"
}

// Known reports whether t is part of the protocol.
func (t MsgType) Known() bool {
	_, ok := msgNames[t]
	return ok
}

// Kind is the outcome class of a message.
type Kind uint8

const (
	KindAck Kind = iota
	KindSuccess
	KindFailure
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindAck:
		return "ack"
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindTimeout:
		return "timeout"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Message is one frame received from the tracer. The zero Message stands for
// "nothing arrived" and reports KindTimeout.
type Message struct {
	Type    MsgType
	Payload []byte

	arrived bool
}

// NewMessage builds a received message, for fakes standing in for a tracer.
func NewMessage(t MsgType, payload []byte) Message {
	return Message{Type: t, Payload: payload, arrived: true}
}

// Kind classifies m. Anything other than an ack or OK is a failure.
func (m Message) Kind() Kind {
	switch {
	case !m.arrived:
		return KindTimeout
	case m.Type == MsgAck:
		return KindAck
	case m.Type == MsgOK:
		return KindSuccess
	default:
		return KindFailure
	}
}

// OK reports whether m is a success response.
func (m Message) OK() bool { return m.Kind() == KindSuccess }

func (m Message) String() string {
	if !m.arrived {
		return "<none>"
	}
	return fmt.Sprintf("%s(%d bytes)", m.Type, len(m.Payload))
}
