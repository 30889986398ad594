package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaders(t *testing.T) {
	t.Run("zero value is usable", func(t *testing.T) {
		var h Headers
		h.Set("h1", "v1")

		v, ok := h.Get("h1")
		assert.True(t, ok)
		assert.Equal(t, "v1", v)
		assert.Equal(t, 1, h.Len())
	})

	t.Run("iteration follows insertion order", func(t *testing.T) {
		h := NewHeaders()
		h.Set("h1", "v1")
		h.Set("h2", "v2")
		h.Set("h3", "v3")

		assert.Equal(t, []string{"h1", "h2", "h3"}, h.Keys())

		var visited []string
		h.Each(func(k, v string) {
			visited = append(visited, k+"="+v)
		})
		assert.Equal(t, []string{"h1=v1", "h2=v2", "h3=v3"}, visited)
	})

	t.Run("updating a key keeps its position", func(t *testing.T) {
		h := NewHeaders()
		h.Set("h1", "v1")
		h.Set("h2", "v2")
		h.Set("h1", "updated")

		assert.Equal(t, []string{"h1", "h2"}, h.Keys())
		v, _ := h.Get("h1")
		assert.Equal(t, "updated", v)
	})

	t.Run("delete removes key and order slot", func(t *testing.T) {
		h := NewHeaders()
		h.Set("h1", "v1")
		h.Set("h2", "v2")
		h.Set("h3", "v3")
		h.Delete("h2")

		assert.Equal(t, []string{"h1", "h3"}, h.Keys())
		_, ok := h.Get("h2")
		assert.False(t, ok)

		// Deleting an absent key is a no-op
		h.Delete("missing")
		assert.Equal(t, 2, h.Len())
	})

	t.Run("clone is independent", func(t *testing.T) {
		h := NewHeaders()
		h.Set("h1", "v1")

		c := h.Clone()
		c.Set("h1", "changed")
		c.Set("h2", "v2")

		v, _ := h.Get("h1")
		assert.Equal(t, "v1", v)
		assert.Equal(t, 1, h.Len())
		assert.Equal(t, 2, c.Len())
	})
}
