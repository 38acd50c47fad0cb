package engine

import (
	"strings"
	"sync"

	"github.com/tidwall/btree"
)

// LabelCount is a stored label and the number of vectors carrying it.
type LabelCount struct {
	Label string `json:"url"`
	Count int    `json:"count"`
}

// labelRegistry keeps the labels of the tree ordered for prefix listing.
// The tree itself has no way to find a node by label.
type labelRegistry struct {
	mu    sync.RWMutex
	items *btree.BTreeG[LabelCount]
}

func labelLess(a, b LabelCount) bool {
	return a.Label < b.Label
}

func newLabelRegistry() *labelRegistry {
	// The registry lock already guards the B-tree.
	return &labelRegistry{
		items: btree.NewBTreeGOptions(labelLess, btree.Options{NoLocks: true}),
	}
}

func (r *labelRegistry) add(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items.Get(LabelCount{Label: label})
	if !ok {
		item = LabelCount{Label: label}
	}
	item.Count++
	r.items.Set(item)
}

func (r *labelRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items.Len()
}

// list returns labels starting with prefix in lexical order.
func (r *labelRegistry) list(prefix string, limit int) []LabelCount {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []LabelCount{}
	r.items.Ascend(LabelCount{Label: prefix}, func(item LabelCount) bool {
		if !strings.HasPrefix(item.Label, prefix) {
			return false
		}
		out = append(out, item)
		return limit <= 0 || len(out) < limit
	})
	return out
}
