package cidr

import (
	"net"
	"sort"
)

type node struct {
	net      Network
	children []*node
}

// Tree：单一地址族的包含关系树
// 约束：兄弟节点互不相交并按 Compare 升序，查找时逐层二分下降；构建完成后只读
// 结果依赖插入顺序：后插入的较宽网络挂在先插入的较窄网络之下，并非最长前缀匹配
type Tree struct {
	root *node
	size int
}

// NewTree：以 0.0.0.0/0 或 ::/0 为根构建空树
func NewTree(v6 bool) *Tree {
	size := 4
	if v6 {
		size = 16
	}
	return &Tree{root: &node{net: Network{Host: make([]byte, size), Mask: make([]byte, size), Prefix: 0}}}
}

// Len：已插入的网络数
func (t *Tree) Len() int { return t.size }

// Insert：插入网络；与已存在网络完全相同时保留先声明者并返回 false
func (t *Tree) Insert(n Network) bool {
	if len(n.Host) != len(t.root.net.Host) {
		return false
	}
	if insert(t.root, &node{net: n}) {
		t.size++
		return true
	}
	return false
}

func insert(parent *node, nn *node) bool {
	// 与已有兄弟处于同一网络时挂到该兄弟之下，不论谁更宽；相同网络丢弃
	if i, ok := find(parent.children, nn.net); ok {
		c := parent.children[i]
		if c.net.Prefix == nn.net.Prefix {
			return false
		}
		return insert(c, nn)
	}
	i := sort.Search(len(parent.children), func(i int) bool { return parent.children[i].net.Compare(nn.net) >= 0 })
	parent.children = append(parent.children, nil)
	copy(parent.children[i+1:], parent.children[i:])
	parent.children[i] = nn
	return true
}

// find：在有序兄弟中二分查找与 n 处于同一网络的节点
func find(children []*node, n Network) (int, bool) {
	i := sort.Search(len(children), func(i int) bool { return children[i].net.Compare(n) >= 0 })
	if i < len(children) && children[i].net.Compare(n) == 0 {
		return i, true
	}
	return i, false
}

// Lookup：从根逐层下降，返回路径上最深的网络
func (t *Tree) Lookup(ip net.IP) (Network, bool) {
	q, ok := FromIP(ip)
	if !ok || len(q.Host) != len(t.root.net.Host) {
		return Network{}, false
	}
	cur := t.root
	for {
		i, ok := find(cur.children, q)
		if !ok {
			break
		}
		cur = cur.children[i]
	}
	if cur == t.root {
		return Network{}, false
	}
	return cur.net, true
}

// Walk：按树的先序遍历访问所有网络
func (t *Tree) Walk(fn func(depth int, n Network)) {
	var walk func(n *node, depth int)
	walk = func(n *node, depth int) {
		for _, c := range n.children {
			fn(depth, c.net)
			walk(c, depth+1)
		}
	}
	walk(t.root, 0)
}
