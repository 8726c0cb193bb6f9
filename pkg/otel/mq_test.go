package otel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMQHeaderCarrier(t *testing.T) {
	headers := map[string]interface{}{"traceparent": "00-abc-def-01", "x-retry": int64(2)}
	c := NewMQHeaderCarrier(headers)

	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Empty(t, c.Get("x-retry"))
	assert.Empty(t, c.Get("missing"))

	c.Set("tracestate", "k=v")
	assert.Equal(t, "k=v", headers["tracestate"])
	assert.ElementsMatch(t, []string{"traceparent", "x-retry", "tracestate"}, c.Keys())
}

func TestNewMQHeaderCarrier_NilHeaders(t *testing.T) {
	c := NewMQHeaderCarrier(nil)
	c.Set("traceparent", "x")
	assert.Equal(t, "x", c.Get("traceparent"))
}
