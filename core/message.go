package core

import "fmt"

// Message is the unit of data exchanged between agents: a string keyed map of
// JSON-like values. Messages are treated as values; nothing in agentbus
// mutates a Message it did not create.
type Message = map[string]any

// MessageKey is the reserved field carrying the plain text of a user message.
const MessageKey = "$message"

// UserInputTopic is the topic seeded with the initial input of every run.
const UserInputTopic = "UserInputTopic"

// UserInput wraps plain text into a Message under MessageKey.
func UserInput(text string) Message {
	return Message{MessageKey: text}
}

// MessageText returns the text stored under MessageKey, if any.
func MessageText(m Message) (string, bool) {
	v, ok := m[MessageKey]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ToMessage normalizes a call input. Strings become UserInput messages,
// Messages are shallow-copied and nil yields an empty Message.
func ToMessage(input any) (Message, error) {
	switch v := input.(type) {
	case nil:
		return Message{}, nil
	case string:
		return UserInput(v), nil
	case map[string]any:
		return Clone(v), nil
	case map[string]string:
		out := make(Message, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, nil
	default:
		return nil, &ValidationError{Value: input, Message: fmt.Sprintf("unsupported input type %T: expected string or Message", input)}
	}
}

// Clone returns a shallow copy of m.
func Clone(m Message) Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a new Message with the fields of base overlaid by overlay.
// On key collisions overlay wins.
func Merge(base, overlay Message) Message {
	out := make(Message, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
