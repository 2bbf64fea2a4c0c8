package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	mu.Lock()
	configured = false
	mu.Unlock()
	Configure(Config{Level: "debug", Output: &buf, Service: "test"})
	t.Cleanup(func() {
		mu.Lock()
		configured = false
		mu.Unlock()
	})

	l := WithComponent("namespace")
	l.Info().Str("event", "connect").Msg("hello")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"component":"namespace"`)
	assert.Contains(t, out, `"service":"test"`)
	assert.Contains(t, out, `"message":"hello"`)
}

func TestConfigureOnlyOnce(t *testing.T) {
	var first, second bytes.Buffer
	mu.Lock()
	configured = false
	mu.Unlock()
	Configure(Config{Output: &first})
	Configure(Config{Output: &second})
	t.Cleanup(func() {
		mu.Lock()
		configured = false
		mu.Unlock()
	})

	l := Base()
	l.Info().Msg("x")
	assert.NotEmpty(t, first.String())
	assert.Empty(t, second.String())
}
