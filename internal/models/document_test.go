package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPairSet(t *testing.T) {
	docs := []*Document{
		{DocID: "d1", ContentHash: "h1"},
		{DocID: "d2", ContentHash: "h2"},
		{DocID: "d2", ContentHash: "h2"},
	}
	set := NewPairSet(docs)
	assert.Len(t, set, 2)

	set.Add("d3", "h3")
	assert.Len(t, set, 3)
}

func TestSamePairs(t *testing.T) {
	a := NewPairSet([]*Document{
		{DocID: "d1", ContentHash: "h1"},
		{DocID: "d2", ContentHash: "h2"},
	})

	b := make(PairSet)
	b.Add("d1", "h1")
	b.Add("d2", "h2")
	assert.True(t, SamePairs(a, b))
	assert.True(t, SamePairs(b, a))

	b.Add("d3", "h3")
	assert.False(t, SamePairs(a, b))

	// same size, one pair differs
	c := make(PairSet)
	c.Add("d1", "h1")
	c.Add("d2", "changed")
	assert.False(t, SamePairs(a, c))

	assert.True(t, SamePairs(make(PairSet), make(PairSet)))
}

func TestEnsureHashFillsEmptyHash(t *testing.T) {
	doc := &Document{DocID: "d1", Content: "content"}
	hash := doc.EnsureHash()
	assert.Equal(t, HashContent("content"), hash)

	// an existing hash is never recomputed
	doc.Content = "changed"
	assert.Equal(t, hash, doc.EnsureHash())
}
