package check

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_StatusPredicates(t *testing.T) {
	preds := []Predicate{
		StatusEquals("POST: /message: 202", http.StatusAccepted),
		StatusEquals("is 200", http.StatusOK),
	}

	results := Evaluate(&Response{StatusCode: http.StatusAccepted}, preds)
	require.Len(t, results, 2)

	assert.Equal(t, "POST: /message: 202", results[0].Name)
	assert.True(t, results[0].Passed)
	assert.Equal(t, CategoryNone, results[0].Category)
	assert.False(t, results[0].Timestamp.IsZero())

	assert.Equal(t, "is 200", results[1].Name)
	assert.False(t, results[1].Passed)
	assert.Contains(t, results[1].Message, "expected status 200, got 202")
}

func TestEvaluate_TransportErrorFailsEveryPredicate(t *testing.T) {
	preds := []Predicate{
		StatusEquals("a", http.StatusOK),
		StatusEquals("b", http.StatusOK),
	}

	results := Evaluate(&Response{Err: errors.New("connection refused")}, preds)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Passed)
		assert.Equal(t, CategoryTransport, r.Category)
		assert.Equal(t, "connection refused", r.Message)
	}
}

func TestEvaluate_NilResponse(t *testing.T) {
	results := Evaluate(nil, []Predicate{StatusEquals("a", http.StatusOK)})
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, CategoryTransport, results[0].Category)
}

func TestEvaluate_PanicAndNilFnAreFailures(t *testing.T) {
	preds := []Predicate{
		{Name: "panics", Fn: func(*Response) error { panic("boom") }},
		{Name: "no fn"},
		StatusEquals("ok", http.StatusOK),
	}

	var results []Result
	require.NotPanics(t, func() {
		results = Evaluate(&Response{StatusCode: http.StatusOK}, preds)
	})
	require.Len(t, results, 3)

	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "boom")
	assert.False(t, results[1].Passed)
	assert.True(t, results[2].Passed, "predicates are evaluated independently")
}

func TestEvaluate_NoPredicates(t *testing.T) {
	results := Evaluate(&Response{StatusCode: http.StatusOK}, nil)
	assert.Empty(t, results)
}

func TestFailed(t *testing.T) {
	r := Failed("GET: /message: timestamp dependency", CategoryDependencyMissing, errors.New("missing"))
	assert.False(t, r.Passed)
	assert.Equal(t, CategoryDependencyMissing, r.Category)
	assert.Equal(t, "missing", r.Message)
	assert.False(t, r.Timestamp.IsZero())
}

func TestBodyMatchesSchema(t *testing.T) {
	schema, err := CompileSchema(MessageResponseSchema)
	require.NoError(t, err)
	pred := BodyMatchesSchema("POST: /message: body", schema)

	tests := []struct {
		name string
		body string
		pass bool
	}{
		{"integer timestamp", `{"timestamp": 1717171717171}`, true},
		{"string timestamp", `{"timestamp": "T"}`, true},
		{"missing timestamp", `{"other": 1}`, false},
		{"wrong type", `{"timestamp": true}`, false},
		{"not json", `nope`, false},
		{"empty body", ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Evaluate(&Response{StatusCode: http.StatusAccepted, Body: []byte(tt.body)}, []Predicate{pred})
			require.Len(t, results, 1)
			assert.Equal(t, tt.pass, results[0].Passed, results[0].Message)
		})
	}
}

func TestCompileSchema_Invalid(t *testing.T) {
	_, err := CompileSchema(`not json`)
	assert.Error(t, err)
}
