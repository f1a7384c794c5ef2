// Package signal encodes the small tagged messages that share the
// collaboration channel with replica sync frames. The wire form is
// "<tag>@<json>", split on the first '@'.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Tag string

const (
	TagAuth       Tag = "auth"
	TagMessage    Tag = "message"
	TagInProgress Tag = "inProgress"
)

const delimiter = "@"

var (
	ErrMalformed      = errors.New("malformed signal")
	ErrUnknownTag     = errors.New("unknown signal tag")
	ErrInvalidPayload = errors.New("invalid signal payload")
)

// AuthPayload carries the access token of the connecting user.
type AuthPayload struct {
	Token string `json:"token"`
}

// InProgressPayload marks an actor as busy (State true) or done with an
// activity on a document. Context is opaque to the protocol.
type InProgressPayload struct {
	State   bool           `json:"state"`
	ID      string         `json:"id"`
	Context map[string]any `json:"context"`
}

// Message is a decoded signal. Payload is an AuthPayload, a string or an
// InProgressPayload depending on Tag.
type Message struct {
	Tag     Tag
	Payload any
}

// Known reports whether tag belongs to the protocol.
func Known(tag Tag) bool {
	_, ok := schemas[tag]
	return ok
}

// Encode validates payload against the schema of tag and renders the
// wire form.
func Encode(tag Tag, payload any) (string, error) {
	schema, ok := schemas[tag]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownTag, tag)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidPayload, tag, err)
	}
	if _, err := parse(tag, schema, raw); err != nil {
		return "", err
	}
	return string(tag) + delimiter + string(raw), nil
}

// Decode parses and validates a wire signal.
func Decode(s string) (Message, error) {
	name, body, ok := strings.Cut(s, delimiter)
	if !ok {
		return Message{}, fmt.Errorf("%w: missing %q delimiter", ErrMalformed, delimiter)
	}
	tag := Tag(name)
	schema, known := schemas[tag]
	if !known {
		return Message{}, fmt.Errorf("%w %q", ErrUnknownTag, name)
	}
	payload, err := parse(tag, schema, []byte(body))
	if err != nil {
		return Message{}, err
	}
	return Message{Tag: tag, Payload: payload}, nil
}

// Auth, Notice and InProgress build typed signals.
func Auth(token string) (string, error) {
	return Encode(TagAuth, AuthPayload{Token: token})
}

func Notice(text string) (string, error) {
	return Encode(TagMessage, text)
}

func InProgress(p InProgressPayload) (string, error) {
	if p.Context == nil {
		p.Context = map[string]any{}
	}
	return Encode(TagInProgress, p)
}

func parse(tag Tag, schema schema, raw []byte) (any, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %s: payload is not JSON: %v", ErrInvalidPayload, tag, err)
	}
	payload, err := schema(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, tag, err)
	}
	return payload, nil
}

type schema func(any) (any, error)

var schemas = map[Tag]schema{
	TagAuth:       authSchema,
	TagMessage:    messageSchema,
	TagInProgress: inProgressSchema,
}

func authSchema(v any) (any, error) {
	obj, err := object(v, "token")
	if err != nil {
		return nil, err
	}
	token, err := stringField(obj, "token")
	if err != nil {
		return nil, err
	}
	return AuthPayload{Token: token}, nil
}

func messageSchema(v any) (any, error) {
	text, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("payload: expected string, got %s", kind(v))
	}
	return text, nil
}

func inProgressSchema(v any) (any, error) {
	obj, err := object(v, "state", "id", "context")
	if err != nil {
		return nil, err
	}
	state, ok := obj["state"].(bool)
	if !ok {
		return nil, fmt.Errorf("payload.state: expected boolean, got %s", kind(obj["state"]))
	}
	id, err := stringField(obj, "id")
	if err != nil {
		return nil, err
	}
	ctx, ok := obj["context"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload.context: expected object, got %s", kind(obj["context"]))
	}
	return InProgressPayload{State: state, ID: id, Context: ctx}, nil
}

// object checks v is an object holding only the allowed keys.
func object(v any, allowed ...string) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload: expected object, got %s", kind(v))
	}
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !contains(allowed, key) {
			return nil, fmt.Errorf("payload.%s: unexpected field", key)
		}
	}
	return obj, nil
}

func stringField(obj map[string]any, key string) (string, error) {
	s, ok := obj[key].(string)
	if !ok {
		return "", fmt.Errorf("payload.%s: expected string, got %s", key, kind(obj[key]))
	}
	return s, nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
