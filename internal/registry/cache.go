package registry

import (
	"net"
	"sync/atomic"
)

// Family：请求的 IP 地址族
type Family int

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// FamilyOf：按地址推断地址族，nil 视为 IPv4
func FamilyOf(ip net.IP) Family {
	if ip != nil && ip.To4() == nil {
		return IPv6
	}
	return IPv4
}

// HealthState：健康监控推送的可用性
type HealthState struct {
	Available     bool `json:"isAvailable"`
	IPv4Available bool `json:"ipv4Available"`
	IPv6Available bool `json:"ipv6Available"`
}

// Cache：边缘缓存
// 约束：除可用性标志外全部字段在构建后只读；可用性在收到健康数据前默认为可用
type Cache struct {
	ID               string
	FQDN             string
	IPv4             net.IP
	IPv6             net.IP
	TTL              int
	Port             int
	SecurePort       int
	Location         string
	HashID           string
	Points           []float64
	Capabilities     map[string]struct{}
	DeliveryServices map[string]string

	available atomic.Bool
	v4        atomic.Bool
	v6        atomic.Bool
}

func (c *Cache) setDefaultHealth() {
	c.SetHealth(HealthState{Available: true, IPv4Available: true, IPv6Available: true})
}

// SetHealth：原子写入；读者允许短暂看到旧值
func (c *Cache) SetHealth(h HealthState) {
	c.available.Store(h.Available)
	c.v4.Store(h.IPv4Available)
	c.v6.Store(h.IPv6Available)
}

func (c *Cache) Health() HealthState {
	return HealthState{Available: c.available.Load(), IPv4Available: c.v4.Load(), IPv6Available: c.v6.Load()}
}

// AvailableFor：整体可用且对应地址族可用
func (c *Cache) AvailableFor(f Family) bool {
	if !c.available.Load() {
		return false
	}
	if f == IPv6 {
		return c.v6.Load()
	}
	return c.v4.Load()
}

// HasCapabilities：持有全部要求的能力标签
func (c *Cache) HasCapabilities(required []string) bool {
	for _, r := range required {
		if _, ok := c.Capabilities[r]; !ok {
			return false
		}
	}
	return true
}

// Serves：是否引用该交付服务
func (c *Cache) Serves(ds string) bool {
	_, ok := c.DeliveryServices[ds]
	return ok
}

// FQDNFor：服务该交付服务时使用的域名
func (c *Cache) FQDNFor(ds string) string {
	if f, ok := c.DeliveryServices[ds]; ok && f != "" {
		return f
	}
	return c.FQDN
}
