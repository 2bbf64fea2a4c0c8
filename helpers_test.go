package siox_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ramory-l/siox"
	"github.com/ramory-l/siox/schema"
)

type Note struct {
	Text   string `json:"text"`
	Pinned bool   `json:"pinned" default:"false"`
}

type NoteOut struct {
	ID   int      `json:"id"`
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

type Counter struct {
	N int `json:"n"`
}

type Draft struct {
	NoteText string `json:"note_text"`
}

// bindOne binds ev alone in a fresh group and returns the group.
func bindOne(t *testing.T, ev siox.Event, opts ...siox.GroupOption) *siox.Group {
	t.Helper()
	g := siox.NewGroup(schema.NewRegistry(), opts...)
	require.NoError(t, g.Bind("test_event", ev))
	return g
}

func echo(_ *siox.Context, in Note) (any, error) {
	return in.Text, nil
}
