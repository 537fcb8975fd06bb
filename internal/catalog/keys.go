package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a node of the category tree.
type Kind string

// Category kinds as they appear in tracker breadcrumb links.
const (
	KindRoot     Kind = "r"
	KindCategory Kind = "c"
	KindForum    Kind = "f"
)

// PathElem is one (kind, id) pair of a category key.
type PathElem struct {
	Kind Kind
	ID   int64
}

// String renders the element as it appears in key strings, e.g. "f12".
func (e PathElem) String() string {
	return string(e.Kind) + strconv.FormatInt(e.ID, 10)
}

// RootElem is the fixed first element of every key.
var RootElem = PathElem{Kind: KindRoot, ID: 0}

// CategoryKey is the root-to-node path identifying a category.
type CategoryKey []PathElem

// RootKey returns the well-known key of the root category.
func RootKey() CategoryKey {
	return CategoryKey{RootElem}
}

// String joins the elements with slashes, e.g. "r0/c5/f12".
func (k CategoryKey) String() string {
	parts := make([]string, len(k))
	for i, e := range k {
		parts[i] = e.String()
	}
	return strings.Join(parts, "/")
}

// ID is the last element in string form; artifact paths are derived from it.
func (k CategoryKey) ID() string {
	if len(k) == 0 {
		return ""
	}
	return k[len(k)-1].String()
}

// Leaf returns the last element of the key.
func (k CategoryKey) Leaf() PathElem {
	if len(k) == 0 {
		return PathElem{}
	}
	return k[len(k)-1]
}

// Depth is the number of edges between the root and the node.
func (k CategoryKey) Depth() int {
	return len(k) - 1
}

// IsRoot reports whether k is the root key.
func (k CategoryKey) IsRoot() bool {
	return len(k) == 1 && k[0] == RootElem
}

// Parent returns the key of the parent node, or nil for the root.
func (k CategoryKey) Parent() CategoryKey {
	if len(k) <= 1 {
		return nil
	}
	return k[:len(k)-1:len(k)-1]
}

// Ancestors returns every proper prefix of k, root first.
func (k CategoryKey) Ancestors() []CategoryKey {
	if len(k) <= 1 {
		return nil
	}
	out := make([]CategoryKey, 0, len(k)-1)
	for i := 1; i < len(k); i++ {
		out = append(out, k[:i:i])
	}
	return out
}

// HasPrefix reports whether prefix is k itself or one of its ancestors.
func (k CategoryKey) HasPrefix(prefix CategoryKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if prefix[i] != k[i] {
			return false
		}
	}
	return true
}

// Equal compares two keys element-wise.
func (k CategoryKey) Equal(other CategoryKey) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

// MarshalJSON encodes the key in its string form.
func (k CategoryKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a key from its string form.
func (k *CategoryKey) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode category key: %w", err)
	}
	parsed, err := ParseCategoryKey(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseCategoryKey parses the slash-joined string form of a key.
func ParseCategoryKey(raw string) (CategoryKey, error) {
	raw = strings.Trim(strings.TrimSpace(raw), "/")
	if raw == "" {
		return nil, fmt.Errorf("empty category key")
	}
	parts := strings.Split(raw, "/")
	key := make(CategoryKey, 0, len(parts))
	for _, part := range parts {
		elem, err := parsePathElem(part)
		if err != nil {
			return nil, fmt.Errorf("parse category key %q: %w", raw, err)
		}
		key = append(key, elem)
	}
	if key[0] != RootElem {
		return nil, fmt.Errorf("parse category key %q: must start with %s", raw, RootElem)
	}
	return key, nil
}

func parsePathElem(part string) (PathElem, error) {
	if len(part) < 2 {
		return PathElem{}, fmt.Errorf("malformed element %q", part)
	}
	id, err := strconv.ParseInt(part[1:], 10, 64)
	if err != nil {
		return PathElem{}, fmt.Errorf("malformed element %q: %w", part, err)
	}
	return PathElem{Kind: Kind(part[:1]), ID: id}, nil
}

// PathSegment is one breadcrumb link: (id, kind, title).
type PathSegment struct {
	ID    int64
	Kind  Kind
	Title string
}

// Elem drops the title.
func (s PathSegment) Elem() PathElem {
	return PathElem{Kind: s.Kind, ID: s.ID}
}

// CategoryPath is the breadcrumb trail from the root to an entry's leaf.
type CategoryPath []PathSegment

// Normalize prepends the root segment when the trail does not start with it.
func (p CategoryPath) Normalize() CategoryPath {
	if len(p) > 0 && p[0].Elem() == RootElem {
		return p
	}
	out := make(CategoryPath, 0, len(p)+1)
	out = append(out, PathSegment{ID: RootElem.ID, Kind: KindRoot})
	return append(out, p...)
}

// Key composes the leaf key for the trail.
func (p CategoryPath) Key() CategoryKey {
	norm := p.Normalize()
	key := make(CategoryKey, len(norm))
	for i, seg := range norm {
		key[i] = seg.Elem()
	}
	return key
}

// KeyFromPath composes the leaf key for a breadcrumb trail.
func KeyFromPath(path CategoryPath) CategoryKey {
	return path.Key()
}
