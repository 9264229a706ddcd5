package cidr

import "net"

// Index：按地址族分开的覆盖区索引
type Index struct {
	v4 *Tree
	v6 *Tree
}

// NewIndex：创建空索引
func NewIndex() *Index {
	return &Index{v4: NewTree(false), v6: NewTree(true)}
}

// Insert：按地址族插入；重复网络返回 false
func (x *Index) Insert(n Network) bool {
	if n.IsV4() {
		return x.v4.Insert(n)
	}
	return x.v6.Insert(n)
}

// Lookup：解析客户端地址所属地点
func (x *Index) Lookup(ip net.IP) (Network, bool) {
	if ip == nil {
		return Network{}, false
	}
	if ip.To4() != nil {
		return x.v4.Lookup(ip)
	}
	return x.v6.Lookup(ip)
}

// Len：两个地址族的网络总数
func (x *Index) Len() int { return x.v4.Len() + x.v6.Len() }
