// Package transport implements the Peer Transport of §4.J: a framed
// JSON-over-websocket wire protocol (justsaying/request/response),
// heartbeats, and round-robin inbound/outbound connection pools, built
// on gorilla/websocket.
package transport

import (
	"encoding/json"
	"fmt"
)

// Kind is the first element of every wire envelope, spec §4.J's three
// message kinds.
type Kind string

const (
	KindJustsaying Kind = "justsaying"
	KindRequest    Kind = "request"
	KindResponse   Kind = "response"
)

// justsaying is [ "justsaying", {subject, body} ].
type justsayingBody struct {
	Subject string          `json:"subject"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// request is [ "request", {command, params, tag} ].
type requestBody struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
	Tag     string          `json:"tag"`
}

// response is [ "response", {tag, response, error} ].
type responseBody struct {
	Tag      string          `json:"tag"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Envelope is a decoded incoming message: exactly one of the three
// body fields is populated, matching Kind.
type Envelope struct {
	Kind Kind

	Subject string
	Body    json.RawMessage

	Command string
	Params  json.RawMessage
	Tag     string

	Response json.RawMessage
	Error    string
}

// encodeJustsaying renders a justsaying wire message.
func encodeJustsaying(subject string, body any) ([]byte, error) {
	raw, err := marshalAny(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal([2]any{KindJustsaying, justsayingBody{Subject: subject, Body: raw}})
}

// encodeRequest renders a request wire message.
func encodeRequest(command, tag string, params any) ([]byte, error) {
	raw, err := marshalAny(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal([2]any{KindRequest, requestBody{Command: command, Params: raw, Tag: tag}})
}

// encodeResponse renders a response wire message, carrying either a
// result or an error string but not both.
func encodeResponse(tag string, result any, resultErr error) ([]byte, error) {
	body := responseBody{Tag: tag}
	if resultErr != nil {
		body.Error = resultErr.Error()
	} else {
		raw, err := marshalAny(result)
		if err != nil {
			return nil, err
		}
		body.Response = raw
	}
	return json.Marshal([2]any{KindResponse, body})
}

func marshalAny(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal: %w", err)
	}
	return b, nil
}

// decodeEnvelope parses one [kind, body] wire frame.
func decodeEnvelope(raw []byte) (*Envelope, error) {
	var frame [2]json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("transport: decode frame: %w", err)
	}
	var kind Kind
	if err := json.Unmarshal(frame[0], &kind); err != nil {
		return nil, fmt.Errorf("transport: decode kind: %w", err)
	}
	env := &Envelope{Kind: kind}
	switch kind {
	case KindJustsaying:
		var b justsayingBody
		if err := json.Unmarshal(frame[1], &b); err != nil {
			return nil, fmt.Errorf("transport: decode justsaying: %w", err)
		}
		env.Subject, env.Body = b.Subject, b.Body
	case KindRequest:
		var b requestBody
		if err := json.Unmarshal(frame[1], &b); err != nil {
			return nil, fmt.Errorf("transport: decode request: %w", err)
		}
		env.Command, env.Params, env.Tag = b.Command, b.Params, b.Tag
	case KindResponse:
		var b responseBody
		if err := json.Unmarshal(frame[1], &b); err != nil {
			return nil, fmt.Errorf("transport: decode response: %w", err)
		}
		env.Tag, env.Response, env.Error = b.Tag, b.Response, b.Error
	default:
		return nil, fmt.Errorf("transport: unknown message kind %q", kind)
	}
	return env, nil
}
