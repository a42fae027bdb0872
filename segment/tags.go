package segment

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// TagIndex maps tags to the ordinals of KV records carrying them. It is a
// derived structure rebuilt from the KV segment on open, never persisted.
type TagIndex struct {
	bitmaps map[string]*roaring.Bitmap
}

// NewTagIndex builds a tag index over the given records. Record ordinals
// follow the slice order, which matches the on-disk stream order.
func NewTagIndex(records []KVRecord) *TagIndex {
	idx := &TagIndex{bitmaps: make(map[string]*roaring.Bitmap)}
	for i := range records {
		idx.Add(uint32(i), records[i].Tags)
	}
	return idx
}

// Add records that ordinal carries the given tags.
func (idx *TagIndex) Add(ordinal uint32, tags []string) {
	for _, tag := range tags {
		bm, ok := idx.bitmaps[tag]
		if !ok {
			bm = roaring.New()
			idx.bitmaps[tag] = bm
		}
		bm.Add(ordinal)
	}
}

// Find returns the ordinals of records carrying the tag, in ascending
// order. A missing tag yields an empty slice.
func (idx *TagIndex) Find(tag string) []uint32 {
	bm, ok := idx.bitmaps[tag]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

// FindAll returns the ordinals of records carrying every given tag.
func (idx *TagIndex) FindAll(tags ...string) []uint32 {
	if len(tags) == 0 {
		return nil
	}

	bm, ok := idx.bitmaps[tags[0]]
	if !ok {
		return nil
	}

	result := bm.Clone()
	for _, tag := range tags[1:] {
		other, ok := idx.bitmaps[tag]
		if !ok {
			return nil
		}
		result.And(other)
	}

	return result.ToArray()
}

// Tags returns the number of distinct indexed tags.
func (idx *TagIndex) Tags() int {
	return len(idx.bitmaps)
}
