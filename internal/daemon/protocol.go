package daemon

import "github.com/laulauland/ragrep/internal/search"

// MessageType tags each line of the newline-delimited JSON protocol.
type MessageType string

const (
	MessageTypeRequest  MessageType = "Request"
	MessageTypeResponse MessageType = "Response"
	MessageTypeError    MessageType = "Error"
)

// Envelope is one line of the wire protocol: a tagged union carrying
// exactly one of Request, Response or Message depending on Type.
// One request per connection line; a connection may carry many
// request/response pairs serially, and a Response's ID always echoes
// the Request that produced it.
type Envelope struct {
	Type     MessageType            `json:"type"`
	ID       string                 `json:"id"`
	Request  *search.SearchRequest  `json:"request,omitempty"`
	Response *search.SearchResponse `json:"response,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

// NewRequest wraps a SearchRequest in its envelope.
func NewRequest(id string, req search.SearchRequest) Envelope {
	return Envelope{Type: MessageTypeRequest, ID: id, Request: &req}
}

// NewResponse wraps a SearchResponse in its envelope.
func NewResponse(id string, resp search.SearchResponse) Envelope {
	return Envelope{Type: MessageTypeResponse, ID: id, Response: &resp}
}

// NewError wraps an error message in its envelope.
func NewError(id string, message string) Envelope {
	return Envelope{Type: MessageTypeError, ID: id, Message: message}
}
