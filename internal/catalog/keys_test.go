package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategoryPathKeyPrependsRoot(t *testing.T) {
	t.Parallel()

	path := CategoryPath{
		{ID: 5, Kind: KindCategory, Title: "Movies"},
		{ID: 12, Kind: KindForum, Title: "Drama"},
	}
	key := path.Key()
	require.Equal(t, "r0/c5/f12", key.String())
	require.Equal(t, "f12", key.ID())
	require.Equal(t, 2, key.Depth())

	withRoot := append(CategoryPath{{ID: 0, Kind: KindRoot, Title: "Index"}}, path...)
	require.True(t, withRoot.Key().Equal(key))
}

func TestCategoryKeyAncestorsAreProperPrefixes(t *testing.T) {
	t.Parallel()

	key, err := ParseCategoryKey("r0/c5/f12/f30")
	require.NoError(t, err)

	ancestors := key.Ancestors()
	require.Len(t, ancestors, 3)
	require.Equal(t, "r0", ancestors[0].String())
	require.Equal(t, "r0/c5", ancestors[1].String())
	require.Equal(t, "r0/c5/f12", ancestors[2].String())
	for _, a := range ancestors {
		require.True(t, key.HasPrefix(a))
		require.False(t, a.HasPrefix(key))
	}
	require.Equal(t, "r0/c5/f12", key.Parent().String())
	require.True(t, RootKey().IsRoot())
	require.Nil(t, RootKey().Parent())
	require.Empty(t, RootKey().Ancestors())
}

func TestAncestorsDoNotAlias(t *testing.T) {
	t.Parallel()

	key := CategoryKey{RootElem, {Kind: KindCategory, ID: 1}, {Kind: KindForum, ID: 2}}
	parent := key.Parent()
	parent = append(parent, PathElem{Kind: KindForum, ID: 99})
	require.Equal(t, "r0/c1/f2", key.String())
	require.Equal(t, "r0/c1/f99", parent.String())
}

func TestParseCategoryKeyErrors(t *testing.T) {
	t.Parallel()

	tests := []string{"", "c5", "r0/x", "r0/cfoo", "/"}
	for _, raw := range tests {
		raw := raw
		t.Run(raw, func(t *testing.T) {
			t.Parallel()
			_, err := ParseCategoryKey(raw)
			require.Error(t, err)
		})
	}
}

func TestCategoryKeyJSON(t *testing.T) {
	t.Parallel()

	cat := Category{Key: CategoryKey{RootElem, {Kind: KindCategory, ID: 7}}, Title: "Music", Dirty: true}
	data, err := json.Marshal(cat)
	require.NoError(t, err)
	require.JSONEq(t, `{"key":"r0/c7","title":"Music","dirty":true}`, string(data))

	var decoded Category
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.True(t, decoded.Key.Equal(cat.Key))
}

func TestCookiesEqual(t *testing.T) {
	t.Parallel()

	require.True(t, CookiesEqual(nil, map[string]string{}))
	require.True(t, CookiesEqual(map[string]string{"a": "1"}, map[string]string{"a": "1"}))
	require.False(t, CookiesEqual(map[string]string{"a": "1"}, map[string]string{"a": "2"}))
	require.False(t, CookiesEqual(map[string]string{"a": "1"}, nil))
}
