package sliceutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testItem struct {
	ID   string
	Name string
}

func TestDeduplicate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		items []testItem
		want  []testItem
	}{
		{
			name:  "No duplicates",
			items: []testItem{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}},
			want:  []testItem{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}},
		},
		{
			name:  "First occurrence wins",
			items: []testItem{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}, {ID: "1", Name: "C"}},
			want:  []testItem{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}},
		},
		{
			name:  "Empty input",
			items: []testItem{},
			want:  []testItem{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Deduplicate(tt.items, func(i testItem) string { return i.ID })
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"Design", "Music", "Technology"},
		Union([]string{"Design", "Music"}, nil, []string{"Technology", "Design"}))
	assert.Nil(t, Union[string]())
	assert.Nil(t, Union([]string{}, nil))
}

func TestHead(t *testing.T) {
	t.Parallel()
	items := []int{1, 2, 3, 4}
	assert.Equal(t, []int{1, 2}, Head(items, 2))
	assert.Equal(t, items, Head(items, 10))
	assert.Empty(t, Head(items, -1))
}
