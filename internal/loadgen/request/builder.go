// Package request builds the POST and GET request descriptors a virtual
// user sends in each iteration.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// Tags identify each step in metrics.
const (
	TagPost = "POST /message"
	TagGet  = "GET /message"
)

// TimestampField is the POST response field the GET step depends on.
const TimestampField = "timestamp"

var (
	// ErrMalformedResponse is returned when the POST body is not valid JSON.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrDependencyMissing is returned when the POST body has no timestamp.
	ErrDependencyMissing = errors.New("dependency missing")
)

// Identity is the session identity a VU keeps for its whole lifetime.
type Identity struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// Request describes one HTTP request to send.
type Request struct {
	Tag         string
	Method      string
	URL         string
	Body        []byte
	ContentType string
}

// Builder produces the request sequence for one base URL.
// It holds no per-VU state and is safe for concurrent use.
type Builder struct {
	endpoint string
	message  string
}

// NewBuilder creates a builder for baseURL. The message is sent in every POST.
func NewBuilder(baseURL, message string) *Builder {
	return &Builder{
		endpoint: strings.TrimRight(baseURL, "/") + "/message",
		message:  message,
	}
}

type postBody struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// Post returns the POST /message request for id.
func (b *Builder) Post(id Identity) Request {
	// Marshalling three strings cannot fail.
	body, _ := json.Marshal(postBody{
		UserID:    id.UserID,
		SessionID: id.SessionID,
		Message:   b.message,
	})

	return Request{
		Tag:         TagPost,
		Method:      http.MethodPost,
		URL:         b.endpoint,
		Body:        body,
		ContentType: "application/json",
	}
}

// Get returns the GET /message request for id. When requireTimestamp is
// set the timestamp is taken from the POST response body; an unusable body
// yields ErrMalformedResponse or ErrDependencyMissing and no request.
func (b *Builder) Get(id Identity, postResponse []byte, requireTimestamp bool) (Request, error) {
	q := url.Values{}
	q.Set("userId", id.UserID)
	q.Set("sessionId", id.SessionID)

	if requireTimestamp {
		ts, err := Timestamp(postResponse)
		if err != nil {
			return Request{}, err
		}
		q.Set("timestamp", ts)
	}

	return Request{
		Tag:    TagGet,
		Method: http.MethodGet,
		URL:    b.endpoint + "?" + q.Encode(),
	}, nil
}

// Timestamp extracts the timestamp field from a POST response body.
// Strings and numbers are accepted verbatim.
func Timestamp(body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty POST response body", ErrDependencyMissing)
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: POST response body is not valid JSON", ErrMalformedResponse)
	}

	res := gjson.GetBytes(body, TimestampField)
	switch {
	case res.Type == gjson.Number:
		return res.Raw, nil
	case res.Type == gjson.String && res.Str != "":
		return res.Str, nil
	default:
		return "", fmt.Errorf("%w: %q not found in POST response", ErrDependencyMissing, TimestampField)
	}
}
