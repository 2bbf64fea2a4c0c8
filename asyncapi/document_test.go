package asyncapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestMapKeepsInsertionOrder(t *testing.T) {
	m := NewMap()
	m.Set("zeta", 1)
	m.Set("alpha", map[string]any{"x": true})
	m.Set("mid.dle", "dotted")
	m.Set("42", "numeric")
	m.Set("zeta", 2)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":2,"alpha":{"x":true},"mid.dle":"dotted","42":"numeric"}`, string(out))
	assert.Equal(t, []string{"zeta", "alpha", "mid.dle", "42"}, m.Keys())
}

func TestMapMergeReportsOverwrites(t *testing.T) {
	a := NewMap()
	a.Set("one", 1)
	b := NewMap()
	b.Set("two", 2)
	b.Set("one", 11)

	over := a.Merge(b)
	assert.Equal(t, []string{"one"}, over)
	v, _ := a.Get("one")
	assert.Equal(t, 11, v)
	assert.Equal(t, 2, a.Len())
	assert.Nil(t, a.Merge(nil))
}

func TestDocumentShape(t *testing.T) {
	doc := New("Widgets", "1.2.0")
	doc.Channels.Set("create-widget", map[string]any{"publish": map[string]any{"message": MessageRef("Widget")}})
	doc.Components.Messages.Set("Widget", map[string]any{"payload": map[string]any{"type": "object"}})

	out, err := json.Marshal(doc)
	require.NoError(t, err)

	assert.Equal(t, "2.2.0", gjson.GetBytes(out, "asyncapi").String())
	assert.Equal(t, "Widgets", gjson.GetBytes(out, "info.title").String())
	assert.Equal(t, "#/components/messages/Widget", gjson.GetBytes(out, "channels.create-widget.publish.message.$ref").String())
	assert.Equal(t, "object", gjson.GetBytes(out, "components.messages.Widget.payload.type").String())
}

func TestEmptyMapMarshals(t *testing.T) {
	var m *Map
	out, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
	assert.Equal(t, "#/components/messages/X/payload", PayloadRef("X")["$ref"])
}
