package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope kinds. The first group is sent by clients, the second by the
// server; chat, pm and file appear in both directions with different fields.
const (
	KindJoin       = "join"
	KindChat       = "chat"
	KindSwitchRoom = "switch_room"
	KindPM         = "pm"
	KindFile       = "file"
	KindWho        = "who"

	KindSystem = "system"
	KindUsers  = "users"
	KindError  = "error"
)

// Envelope is one protocol message: a tagged object carried as a single
// newline-terminated JSON line. Only the fields relevant to a given kind
// are populated; the rest stay empty and are omitted on the wire.
type Envelope struct {
	Type     string   `json:"type"`
	Room     string   `json:"room,omitempty"`
	Nick     string   `json:"nick,omitempty"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Text     string   `json:"text,omitempty"`
	Error    string   `json:"error,omitempty"`
	Users    []string `json:"users,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Mime     string   `json:"mime,omitempty"`
	Size     int      `json:"size,omitempty"`
	Data     string   `json:"data,omitempty"`
}

// DecodeError reports a line that is not a well-formed protocol object.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("bad json: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError reports a well-formed envelope missing a required field.
// The message is suitable for sending back to the client verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Encode serializes an envelope as one newline-terminated JSON line.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses one line into an Envelope. Malformed input yields a
// *DecodeError; a well-formed envelope missing a field its kind requires
// yields a *ValidationError. Identifier fields are trimmed of surrounding
// whitespace. Unknown kinds decode successfully; rejecting them is the
// session's job, which needs to tell them apart from garbage lines.
// Decode does not enforce any line-length limit; the caller does that
// before handing the line over.
func Decode(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, &DecodeError{Err: err}
	}
	env.Nick = strings.TrimSpace(env.Nick)
	env.Room = strings.TrimSpace(env.Room)
	env.To = strings.TrimSpace(env.To)

	switch env.Type {
	case KindJoin:
		if env.Nick == "" {
			return Envelope{}, &ValidationError{Msg: "nickname required"}
		}
	case KindSwitchRoom:
		if env.Room == "" {
			return Envelope{}, &ValidationError{Msg: "room required"}
		}
	}
	return env, nil
}

// ErrorEnvelope builds the server's error reply for a client.
func ErrorEnvelope(msg string) Envelope {
	return Envelope{Type: KindError, Error: msg}
}
