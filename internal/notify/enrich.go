package notify

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"github.com/shirou/gopsutil/v4/host"
)

// Locator 根据来源地址返回地理位置描述，查不到时返回空串
type Locator interface {
	Locate(address string) string
}

// GeoLocator 基于 MaxMind GeoIP2/GeoLite2 City 数据库
type GeoLocator struct {
	db *geoip2.Reader
}

// OpenGeoLocator 打开 mmdb 数据库
func OpenGeoLocator(path string) (*GeoLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开 GeoIP 数据库失败: %w", err)
	}
	return &GeoLocator{db: db}, nil
}

func (g *GeoLocator) Locate(address string) string {
	ip := net.ParseIP(address)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return ""
	}
	record, err := g.db.City(ip)
	if err != nil {
		return ""
	}

	parts := make([]string, 0, 2)
	if name := record.City.Names["en"]; name != "" {
		parts = append(parts, name)
	}
	if name := record.Country.Names["en"]; name != "" {
		parts = append(parts, name)
	}
	return strings.Join(parts, ", ")
}

func (g *GeoLocator) Close() error {
	return g.db.Close()
}

// HostLabel 本机标识，用于区分多台服务器发出的邮件
func HostLabel(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err == nil && info.Hostname != "" {
		if info.Platform != "" {
			return fmt.Sprintf("%s (%s %s)", info.Hostname, info.Platform, info.PlatformVersion)
		}
		return info.Hostname
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "unknown"
}

// Enricher 在投递前补充主机和地理位置信息
type Enricher struct {
	host    string
	locator Locator
}

func NewEnricher(host string, locator Locator) *Enricher {
	return &Enricher{host: host, locator: locator}
}

func (e *Enricher) Enrich(env *Envelope) {
	if env.Host == "" {
		env.Host = e.host
	}
	if env.Location == "" && e.locator != nil {
		env.Location = e.locator.Locate(env.Notification.SourceAddress())
	}
}
