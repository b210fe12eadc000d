// Package check evaluates named predicates against HTTP responses.
package check

import (
	"fmt"
	"time"
)

// Category tags why a check failed. An empty category means the predicate
// itself decided the outcome.
type Category string

const (
	CategoryNone              Category = ""
	CategoryTransport         Category = "transport"
	CategoryDependencyMissing Category = "dependency_missing"
	CategoryMalformedResponse Category = "malformed_response"
)

// Response is what a predicate sees of one HTTP exchange.
type Response struct {
	StatusCode int
	Body       []byte
	Latency    time.Duration

	// Err is set when the request never produced a response
	Err error
}

// Result is the outcome of one predicate for one response.
type Result struct {
	Name      string    `json:"name"`
	Passed    bool      `json:"passed"`
	Timestamp time.Time `json:"timestamp"`
	Category  Category  `json:"category,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Predicate is a named assertion. Fn returns nil when the response passes.
type Predicate struct {
	Name string
	Fn   func(resp *Response) error
}

// Evaluate runs every predicate independently and returns one result per
// predicate, in order. It never panics and never returns an error: a
// predicate that fails, errors or panics yields a failed result.
func Evaluate(resp *Response, predicates []Predicate) []Result {
	results := make([]Result, 0, len(predicates))
	now := time.Now()

	for _, p := range predicates {
		r := Result{Name: p.Name, Timestamp: now}

		switch {
		case resp == nil:
			r.Category = CategoryTransport
			r.Message = "no response"
		case resp.Err != nil:
			r.Category = CategoryTransport
			r.Message = resp.Err.Error()
		default:
			if err := safeCall(p, resp); err != nil {
				r.Message = err.Error()
			} else {
				r.Passed = true
			}
		}

		results = append(results, r)
	}

	return results
}

// Failed builds a failed result for a step that could not run at all.
func Failed(name string, category Category, err error) Result {
	r := Result{
		Name:      name,
		Timestamp: time.Now(),
		Category:  category,
	}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

func safeCall(p Predicate, resp *Response) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("predicate panicked: %v", rec)
		}
	}()

	if p.Fn == nil {
		return fmt.Errorf("predicate %q has no function", p.Name)
	}
	return p.Fn(resp)
}

// StatusEquals passes when the response status equals code.
func StatusEquals(name string, code int) Predicate {
	return Predicate{
		Name: name,
		Fn: func(resp *Response) error {
			if resp.StatusCode != code {
				return fmt.Errorf("expected status %d, got %d", code, resp.StatusCode)
			}
			return nil
		},
	}
}
