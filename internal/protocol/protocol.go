package protocol

import (
	"encoding/json"
	"errors"
)

// Represents the kind of a wire message, carried in its "type" field
type MessageType string

const (
	// Full-buffer replacement, relayed to the rest of the room
	TypeCodeUpdate MessageType = "code_update"

	// Cursor or selection change, relayed verbatim
	TypeCursorUpdate MessageType = "cursor_update"

	// Snapshot delivered to a connection when it joins
	TypeInit MessageType = "init"

	// Member count delivered to the joining connection only
	TypeUserCountUpdate MessageType = "user_count_update"

	TypeUserJoined MessageType = "user_joined"
	TypeUserLeft   MessageType = "user_left"
	TypeError      MessageType = "error"
)

// Application close code for a connection targeting a room with no row
const CloseRoomNotFound = 4004

var (
	ErrInvalidJSON = errors.New("Invalid JSON")
	ErrUnknownType = errors.New("unknown message type")
	ErrMissingCode = errors.New("code_update requires a string code field")
	ErrRateLimited = errors.New("Rate limit exceeded")
)

// An inbound message that passed validation. Raw is the frame exactly as
// received and is what gets relayed.
type Message struct {
	Type MessageType
	Code string
	Raw  []byte
}

// Decodes and validates an inbound frame. Only code_update and
// cursor_update are accepted from clients.
func Decode(raw []byte) (Message, error) {
	var env struct {
		Type MessageType     `json:"type"`
		Code json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, ErrInvalidJSON
	}

	msg := Message{Type: env.Type, Raw: raw}
	switch env.Type {
	case TypeCodeUpdate:
		if len(env.Code) == 0 || json.Unmarshal(env.Code, &msg.Code) != nil {
			return Message{}, ErrMissingCode
		}
	case TypeCursorUpdate:
	default:
		return Message{}, ErrUnknownType
	}
	return msg, nil
}

type snapshotMessage struct {
	Type MessageType `json:"type"`
	Code string      `json:"code"`
}

type countMessage struct {
	Type  MessageType `json:"type"`
	Count int         `json:"count"`
}

type errorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func Init(code string) []byte {
	b, _ := json.Marshal(snapshotMessage{Type: TypeInit, Code: code})
	return b
}

func UserCount(count int) []byte {
	b, _ := json.Marshal(countMessage{Type: TypeUserCountUpdate, Count: count})
	return b
}

func UserJoined(count int) []byte {
	b, _ := json.Marshal(countMessage{Type: TypeUserJoined, Count: count})
	return b
}

func UserLeft(count int) []byte {
	b, _ := json.Marshal(countMessage{Type: TypeUserLeft, Count: count})
	return b
}

func Error(message string) []byte {
	b, _ := json.Marshal(errorMessage{Type: TypeError, Message: message})
	return b
}
