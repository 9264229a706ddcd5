// 包 snapshot：完整路由配置快照的数据形态与 YAML/JSON 解码
// 背景：快照由外部配置服务产出，路由核心只消费解码后的 Config；校验在 registry 构建时逐实体完成
package snapshot

import (
	"errors"
	"fmt"
	"os"

	"cdn-router/internal/geo"

	"gopkg.in/yaml.v3"
)

var ErrNilSnapshot = errors.New("nil snapshot")

// 定位方式
const (
	MethodDeepCZ = "DEEP_CZ"
	MethodCZ     = "CZ"
	MethodGeo    = "GEO"
)

// 匹配规则类型
const (
	MatchHost   = "HOST"
	MatchPath   = "PATH"
	MatchHeader = "HEADER"
)

// 交付服务协议
const (
	ProtocolHTTP = "HTTP"
	ProtocolDNS  = "DNS"
)

type Config struct {
	Version           string            `yaml:"version" json:"version"`
	Locations         []Location        `yaml:"locations" json:"locations"`
	Caches            []Cache           `yaml:"caches" json:"caches"`
	DeliveryServices  []DeliveryService `yaml:"deliveryServices" json:"deliveryServices"`
	CoverageZones     []CoverageZone    `yaml:"coverageZones" json:"coverageZones"`
	DeepCoverageZones []CoverageZone    `yaml:"deepCoverageZones" json:"deepCoverageZones"`
}

// Location：缓存地点；Methods 为空表示启用全部定位方式
type Location struct {
	ID                string         `yaml:"id" json:"id"`
	Coordinate        geo.Coordinate `yaml:"coordinate" json:"coordinate"`
	Backups           []string       `yaml:"backups" json:"backups"`
	FallbackToClosest bool           `yaml:"fallbackToClosest" json:"fallbackToClosest"`
	Methods           []string       `yaml:"methods" json:"methods"`
}

// Cache：边缘缓存；HashID 为空时以 ID 作为环上身份，Replicas 为 0 时使用默认副本数
type Cache struct {
	ID               string            `yaml:"id" json:"id"`
	FQDN             string            `yaml:"fqdn" json:"fqdn"`
	IPv4             string            `yaml:"ipv4" json:"ipv4"`
	IPv6             string            `yaml:"ipv6" json:"ipv6"`
	TTL              int               `yaml:"ttl" json:"ttl"`
	Port             int               `yaml:"port" json:"port"`
	SecurePort       int               `yaml:"securePort" json:"securePort"`
	Location         string            `yaml:"location" json:"location"`
	Capabilities     []string          `yaml:"capabilities" json:"capabilities"`
	HashID           string            `yaml:"hashId" json:"hashId"`
	Replicas         int               `yaml:"replicas" json:"replicas"`
	DeliveryServices map[string]string `yaml:"deliveryServices" json:"deliveryServices"`
}

// MatchRule：单条匹配规则；Header 仅对 HEADER 类型有效，Capture 为命名分组或分组序号
type MatchRule struct {
	Type    string `yaml:"type" json:"type"`
	Header  string `yaml:"header" json:"header"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Capture string `yaml:"capture" json:"capture"`
}

type DeliveryService struct {
	ID                   string          `yaml:"id" json:"id"`
	Protocol             string          `yaml:"protocol" json:"protocol"`
	FQDN                 string          `yaml:"fqdn" json:"fqdn"`
	Matchers             []MatchRule     `yaml:"matchers" json:"matchers"`
	RequiredCapabilities []string        `yaml:"requiredCapabilities" json:"requiredCapabilities"`
	QueryKeys            []string        `yaml:"queryKeys" json:"queryKeys"`
	CoverageZoneOnly     bool            `yaml:"coverageZoneOnly" json:"coverageZoneOnly"`
	DeepCaching          bool            `yaml:"deepCaching" json:"deepCaching"`
	RegionalGeoBlocking  bool            `yaml:"regionalGeoBlocking" json:"regionalGeoBlocking"`
	MissCoordinate       *geo.Coordinate `yaml:"missCoordinate" json:"missCoordinate"`
	MaxDNSIPs            int             `yaml:"maxDnsIps" json:"maxDnsIps"`
}

// CoverageZone：网络段到地点的映射；Caches 仅深度覆盖区使用
type CoverageZone struct {
	Location string   `yaml:"location" json:"location"`
	Networks []string `yaml:"networks" json:"networks"`
	Caches   []string `yaml:"caches" json:"caches"`
}

// Decode：解码 YAML 或 JSON 快照
func Decode(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &c, nil
}

// LoadFile：读取并解码快照文件
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}
