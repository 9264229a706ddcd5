// 包 geo：地理坐标、球面距离与客户端地址定位
package geo

import (
	"math"
	"net"
)

const earthRadiusKm = 6371.0

// Coordinate：纬度/经度（度）
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid：纬度在 [-90,90]、经度在 [-180,180]，且不是 NaN
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Distance：Haversine 球面距离，单位千米
func Distance(a, b Coordinate) float64 {
	rad := math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLon := (b.Lon - a.Lon) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Info：定位结果
type Info struct {
	Coordinate Coordinate
	PostalCode string
	Country    string
}

// Locator：把客户端地址解析为地理信息；未知地址返回 false
type Locator interface {
	Locate(ip net.IP) (Info, bool)
}
