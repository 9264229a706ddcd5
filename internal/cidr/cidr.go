// 包 cidr：覆盖区网络条目解析与包含关系比较
package cidr

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	ErrInvalidAddress = errors.New("invalid network address")
	ErrInvalidPrefix  = errors.New("invalid prefix length")
)

// Network：固定长度主机字节、等长掩码与声明的前缀长度，带归属地点
// 约束：Host 为 4 字节（IPv4）或 16 字节（IPv6）；构建后只读
type Network struct {
	Host     []byte
	Mask     []byte
	Prefix   int
	Location string
}

// Parse：解析 "address[/prefixLength]"，缺省前缀为整段地址长度
// 约束：IPv4 前缀 0..32，IPv6 前缀 0..128，越界视为该条目的配置错误
func Parse(s, location string) (Network, error) {
	s = strings.TrimSpace(s)
	addr, plen, hasPrefix := strings.Cut(s, "/")
	ip := net.ParseIP(addr)
	if ip == nil {
		return Network{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	host := []byte(ip.To16())
	if v4 := ip.To4(); v4 != nil && !strings.Contains(addr, ":") {
		host = []byte(v4)
	}
	bits := len(host) * 8
	prefix := bits
	if hasPrefix {
		n, err := strconv.Atoi(plen)
		if err != nil {
			return Network{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, s)
		}
		prefix = n
	}
	if prefix < 0 || prefix > bits {
		return Network{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, s)
	}
	h := make([]byte, len(host))
	copy(h, host)
	return Network{Host: h, Mask: buildMask(len(host), prefix), Prefix: prefix, Location: location}, nil
}

// FromIP：把单个地址表示为主机网络（/32 或 /128）
func FromIP(ip net.IP) (Network, bool) {
	if v4 := ip.To4(); v4 != nil {
		h := make([]byte, 4)
		copy(h, v4)
		return Network{Host: h, Mask: buildMask(4, 32), Prefix: 32}, true
	}
	if v6 := ip.To16(); v6 != nil {
		h := make([]byte, 16)
		copy(h, v6)
		return Network{Host: h, Mask: buildMask(16, 128), Prefix: 128}, true
	}
	return Network{}, false
}

func buildMask(size, prefix int) []byte {
	m := make([]byte, size)
	for i := 0; i < prefix; i++ {
		m[i/8] |= 0x80 >> uint(i%8)
	}
	return m
}

// IsV4：是否为 IPv4 条目
func (n Network) IsV4() bool { return len(n.Host) == 4 }

// Compare：用两者中较短前缀的掩码比较主机字节
// 返回 0 表示“同一网络”（一方包含另一方）；不同地址族按字节长度排序（IPv4 在前）
func (n Network) Compare(o Network) int {
	if len(n.Host) != len(o.Host) {
		return len(n.Host) - len(o.Host)
	}
	mask := n.Mask
	if o.Prefix < n.Prefix {
		mask = o.Mask
	}
	for i := range n.Host {
		a := n.Host[i] & mask[i]
		b := o.Host[i] & mask[i]
		if a != b {
			return int(a) - int(b)
		}
	}
	return 0
}

// Contains：n 的前缀不长于 o 且二者处于同一网络
func (n Network) Contains(o Network) bool {
	return len(n.Host) == len(o.Host) && n.Prefix <= o.Prefix && n.Compare(o) == 0
}

// String：规范化为 network/prefix 形式
func (n Network) String() string {
	masked := make(net.IP, len(n.Host))
	for i := range n.Host {
		masked[i] = n.Host[i] & n.Mask[i]
	}
	return masked.String() + "/" + strconv.Itoa(n.Prefix)
}
