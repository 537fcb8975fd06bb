package reconcile

import (
	"sort"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

// MapNode is one node of the published category map.
type MapNode struct {
	CID   int64      `json:"cid"`
	Text  string     `json:"text"`
	Nodes []*MapNode `json:"nodes,omitempty"`

	key catalog.CategoryKey
}

// BuildCategoryMap assembles the category tree rooted at root. Nodes are
// first indexed by key and then linked to their parents, so input order does
// not matter. Categories whose parent is absent are left out; their number
// is returned alongside the tree.
func BuildCategoryMap(root catalog.Category, categories []catalog.Category) (*MapNode, int) {
	rootNode := newMapNode(root)
	byKey := make(map[string]*MapNode, len(categories)+1)
	byKey[root.Key.String()] = rootNode
	for _, cat := range categories {
		if cat.Key.Equal(root.Key) {
			continue
		}
		byKey[cat.Key.String()] = newMapNode(cat)
	}

	orphans := 0
	for _, node := range byKey {
		if node == rootNode {
			continue
		}
		parent, ok := byKey[node.key.Parent().String()]
		if !ok {
			orphans++
			continue
		}
		parent.Nodes = append(parent.Nodes, node)
	}

	sortChildren(rootNode)
	return rootNode, orphans
}

func newMapNode(cat catalog.Category) *MapNode {
	return &MapNode{CID: cat.Key.Leaf().ID, Text: cat.Title, key: cat.Key}
}

func sortChildren(node *MapNode) {
	sort.Slice(node.Nodes, func(i, j int) bool {
		a, b := node.Nodes[i].key.Leaf(), node.Nodes[j].key.Leaf()
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Kind < b.Kind
	})
	for _, child := range node.Nodes {
		sortChildren(child)
	}
}
