package container

// Map is a persistent, unordered key→value mapping backed by a hash array
// mapped trie keyed on a 64-bit hash split into 4-bit chunks (16-way
// branching, 16 levels deep covering the full hash). Keys compare equal
// via the Eq function supplied at construction; hash collisions degrade a
// leaf into a small linear-scan bucket rather than corrupting the tree.
type Map[K, V any] struct {
	root  *mnode[K, V]
	count int
	hash  func(K) uint64
	eq    func(a, b K) bool
}

const mapMaxDepth = 16 // 64 bits / 4 bits per level

type mentry[K, V any] struct {
	key  K
	val  V
	hash uint64
}

type mnode[K, V any] struct {
	isLeaf   bool
	entries  []mentry[K, V] // leaf: 1 entry normally, >1 only on hash collision
	children [16]*mnode[K, V]
}

// NewMap constructs an empty persistent map using hash and eq to compare
// keys. hash must be consistent with eq: eq(a,b) implies hash(a)==hash(b).
func NewMap[K, V any](hash func(K) uint64, eq func(a, b K) bool) Map[K, V] {
	return Map[K, V]{hash: hash, eq: eq}
}

// Len returns the number of entries.
func (m Map[K, V]) Len() int { return m.count }

// Get looks up key, returning (value, true) if present.
func (m Map[K, V]) Get(key K) (V, bool) {
	h := m.hash(key)
	node := m.root
	depth := 0
	for node != nil {
		if node.isLeaf {
			for _, e := range node.entries {
				if e.hash == h && m.eq(e.key, key) {
					return e.val, true
				}
			}
			var zero V
			return zero, false
		}
		idx := (h >> (4 * uint(depth))) & 0xF
		node = node.children[idx]
		depth++
	}
	var zero V
	return zero, false
}

// Has reports key membership.
func (m Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Put returns a new Map with key bound to val (overwriting any prior
// binding), structurally sharing every untouched subtree.
func (m Map[K, V]) Put(key K, val V) Map[K, V] {
	h := m.hash(key)
	newRoot, added := m.insert(m.root, key, val, h, 0)
	count := m.count
	if added {
		count++
	}
	return Map[K, V]{root: newRoot, count: count, hash: m.hash, eq: m.eq}
}

func (m Map[K, V]) insert(node *mnode[K, V], key K, val V, h uint64, depth int) (*mnode[K, V], bool) {
	if node == nil {
		return &mnode[K, V]{isLeaf: true, entries: []mentry[K, V]{{key: key, val: val, hash: h}}}, true
	}
	if node.isLeaf {
		for i, e := range node.entries {
			if e.hash == h && m.eq(e.key, key) {
				entries := append([]mentry[K, V](nil), node.entries...)
				entries[i] = mentry[K, V]{key: key, val: val, hash: h}
				return &mnode[K, V]{isLeaf: true, entries: entries}, false
			}
		}
		if depth >= mapMaxDepth || len(node.entries) > 1 {
			entries := append(append([]mentry[K, V](nil), node.entries...), mentry[K, V]{key: key, val: val, hash: h})
			return &mnode[K, V]{isLeaf: true, entries: entries}, true
		}
		// Single-entry leaf colliding on the path so far but not on full
		// hash: split into a branch and re-insert both entries.
		existing := node.entries[0]
		branch := &mnode[K, V]{}
		branch, _ = m.insertBranch(branch, existing.key, existing.val, existing.hash, depth)
		branch, added := m.insertBranch(branch, key, val, h, depth)
		return branch, added
	}
	return m.insertBranch(node, key, val, h, depth)
}

func (m Map[K, V]) insertBranch(node *mnode[K, V], key K, val V, h uint64, depth int) (*mnode[K, V], bool) {
	idx := (h >> (4 * uint(depth))) & 0xF
	nc := *node
	child, added := m.insert(node.children[idx], key, val, h, depth+1)
	nc.children[idx] = child
	return &nc, added
}

// Delete returns a new Map with key removed, a no-op (same Map) if absent.
func (m Map[K, V]) Delete(key K) Map[K, V] {
	h := m.hash(key)
	newRoot, removed := m.remove(m.root, key, h, 0)
	if !removed {
		return m
	}
	return Map[K, V]{root: newRoot, count: m.count - 1, hash: m.hash, eq: m.eq}
}

func (m Map[K, V]) remove(node *mnode[K, V], key K, h uint64, depth int) (*mnode[K, V], bool) {
	if node == nil {
		return nil, false
	}
	if node.isLeaf {
		for i, e := range node.entries {
			if e.hash == h && m.eq(e.key, key) {
				if len(node.entries) == 1 {
					return nil, true
				}
				entries := append(append([]mentry[K, V]{}, node.entries[:i]...), node.entries[i+1:]...)
				return &mnode[K, V]{isLeaf: true, entries: entries}, true
			}
		}
		return node, false
	}
	idx := (h >> (4 * uint(depth))) & 0xF
	child, removed := m.remove(node.children[idx], key, h, depth+1)
	if !removed {
		return node, false
	}
	nc := *node
	nc.children[idx] = child
	return &nc, true
}

// ForEach visits every entry. Order is deterministic for a given tree
// shape (trie traversal order) but otherwise unspecified to callers, per
// spec §4.2/§9 open question 1.
func (m Map[K, V]) ForEach(fn func(key K, val V)) {
	var walk func(n *mnode[K, V])
	walk = func(n *mnode[K, V]) {
		if n == nil {
			return
		}
		if n.isLeaf {
			for _, e := range n.entries {
				fn(e.key, e.val)
			}
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(m.root)
}

// MapsEqual compares two maps for structural equality (same keys mapped
// to equal values), independent of trie shape.
func MapsEqual[K, V any](a, b Map[K, V], valEq func(x, y V) bool) bool {
	if a.count != b.count {
		return false
	}
	equal := true
	a.ForEach(func(k K, v V) {
		if !equal {
			return
		}
		bv, ok := b.Get(k)
		if !ok || !valEq(v, bv) {
			equal = false
		}
	})
	return equal
}

// MapHash composes an order-independent hash over a map's entries so that
// two structurally-equal maps with different trie shapes hash identically.
func MapHash[K, V any](m Map[K, V], keyHash func(K) uint64, valHash func(V) uint64) uint64 {
	var acc uint64
	m.ForEach(func(k K, v V) {
		// XOR is commutative/associative: entry order does not matter.
		acc ^= mix(keyHash(k), valHash(v))
	})
	return acc
}

func mix(a, b uint64) uint64 {
	h := uint64(14695981039346656037)
	h = (h ^ a) * 1099511628211
	h = (h ^ b) * 1099511628211
	return h
}
