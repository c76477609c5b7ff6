// Package queue carries archive work items over Kafka.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	TypeStoreSubreddit = "STORE_SUBREDDIT"
	TypeStorePost      = "STORE_POST"
)

var ErrUnknownType = errors.New("unknown message type")

// Message is the envelope written to the topic. Body is the subreddit name
// or post id, depending on Type.
type Message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Body string `json:"body"`
}

func NewMessage(typ, body string) Message {
	return Message{ID: uuid.NewString(), Type: typ, Body: body}
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	const op = "queue.Decode"

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%s: missing type", op)
	}
	return m, nil
}
