package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagIndex(t *testing.T) {
	records := []KVRecord{
		{Key: "a", Tags: []string{"red", "round"}},
		{Key: "b", Tags: []string{"red"}},
		{Key: "c", Tags: []string{"blue", "round"}},
		{Key: "d"},
	}

	idx := NewTagIndex(records)
	assert.Equal(t, 3, idx.Tags())

	assert.Equal(t, []uint32{0, 1}, idx.Find("red"))
	assert.Equal(t, []uint32{0, 2}, idx.Find("round"))
	assert.Empty(t, idx.Find("green"))

	assert.Equal(t, []uint32{0}, idx.FindAll("red", "round"))
	assert.Empty(t, idx.FindAll("red", "blue"))
	assert.Empty(t, idx.FindAll("red", "green"))
	assert.Empty(t, idx.FindAll())
}

func TestTagIndexAdd(t *testing.T) {
	idx := NewTagIndex(nil)
	idx.Add(7, []string{"late"})
	idx.Add(9, []string{"late"})

	assert.Equal(t, []uint32{7, 9}, idx.Find("late"))
}
