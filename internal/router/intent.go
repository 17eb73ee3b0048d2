package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nexus-im/courier/store/message"
)

// Kind tags an intent with the way its audience is resolved.
type Kind string

const (
	KindDirect  Kind = "direct"
	KindChannel Kind = "channel"
)

var (
	ErrMissingSender   = errors.New("sender is required")
	ErrAmbiguousTarget = errors.New("exactly one of recipient and channelId is required")
	ErrInvalidType     = errors.New("messageType must be text or file")
	ErrEmptyContent    = errors.New("text messages need non-empty content")
	ErrMissingFile     = errors.New("file messages need a fileUrl")
	ErrNotMember       = errors.New("sender is not a member of the channel")
)

// Intent is a client's request to send one message.
type Intent struct {
	Sender    string
	Recipient string
	ChannelID string
	Type      message.Type
	Content   string
	FileURL   string
}

// Kind reports whether the intent addresses a user or a channel.
func (i Intent) Kind() (Kind, error) {
	switch {
	case i.Recipient != "" && i.ChannelID == "":
		return KindDirect, nil
	case i.ChannelID != "" && i.Recipient == "":
		return KindChannel, nil
	}
	return "", ErrAmbiguousTarget
}

// Validate checks the fields required by the declared type.
func (i Intent) Validate() (Kind, error) {
	kind, err := i.Kind()
	if err != nil {
		return kind, err
	}
	if i.Sender == "" {
		return kind, ErrMissingSender
	}
	if !i.Type.Valid() {
		return kind, ErrInvalidType
	}

	if i.Type == message.TypeText {
		if strings.TrimSpace(i.Content) == "" {
			return kind, ErrEmptyContent
		}
	} else if strings.TrimSpace(i.FileURL) == "" {
		return kind, ErrMissingFile
	}
	return kind, nil
}

// draft builds the record to persist. Only the payload field matching the
// type is kept.
func (i Intent) draft() *message.Message {
	m := &message.Message{
		SenderID:    i.Sender,
		RecipientID: i.Recipient,
		ChannelID:   i.ChannelID,
		Type:        i.Type,
	}
	if i.Type == message.TypeText {
		m.Content = i.Content
	} else {
		m.FileURL = i.FileURL
	}
	return m
}

// Drop reasons.
const (
	ReasonValidation     = "validation"
	ReasonUnknownChannel = "unknown_channel"
	ReasonNotMember      = "not_member"
	ReasonPersistence    = "persistence"
)

// DropError reports why an intent produced no fan-out.
type DropError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *DropError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "message"
	}
	return fmt.Sprintf("%s dropped (%s): %v", kind, e.Reason, e.Err)
}

func (e *DropError) Unwrap() error {
	return e.Err
}

// IsRejected reports whether err means the intent itself was unacceptable,
// as opposed to the store failing.
func IsRejected(err error) bool {
	var drop *DropError
	return errors.As(err, &drop) && drop.Reason != ReasonPersistence
}
