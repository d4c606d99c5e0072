package protocol

import "fmt"

// NoticeKind classifies an infrastructure failure shown to the local user.
type NoticeKind string

const (
	NoticeJoinFailed    NoticeKind = "JOIN_FAILED"
	NoticeSendFailed    NoticeKind = "SEND_FAILED"
	NoticePersistFailed NoticeKind = "PERSIST_FAILED"
	NoticePeerLeft      NoticeKind = "PEER_LEFT"
)

// Notice is a one-shot report. The operation that produced it has already
// been abandoned.
type Notice struct {
	Kind NoticeKind
	Text string
	Err  error
}

func (n Notice) String() string {
	if n.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", n.Kind, n.Text, n.Err)
	}
	return fmt.Sprintf("%s: %s", n.Kind, n.Text)
}
