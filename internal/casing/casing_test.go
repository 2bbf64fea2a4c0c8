package casing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnake(t *testing.T) {
	cases := map[string]string{
		"CreateWidget": "create_widget",
		"UserID":       "user_id",
		"HTTPServer":   "http_server",
		"ping":         "ping",
		"already_done": "already_done",
		"Item2Name":    "item2_name",
	}
	for in, want := range cases {
		assert.Equal(t, want, Snake(in), in)
	}
}

func TestKebabRoundTrip(t *testing.T) {
	assert.Equal(t, "create-widget", Kebab("create_widget"))
	assert.Equal(t, "create_widget", Dekebab(Kebab("create_widget")))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "in-progress", Label("IN_PROGRESS"))
	assert.Equal(t, "in-progress", Label("InProgress"))
	assert.Equal(t, "draft", Label("DRAFT"))
}
