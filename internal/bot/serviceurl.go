package bot

import (
	"net"
	"net/url"
	"strings"
)

// DefaultServiceHosts Bot Framework 渠道使用的回复主机
var DefaultServiceHosts = []string{"smba.trafficmanager.net", "*.botframework.com"}

// ServiceURLPolicy 限制回复可以发往的 serviceUrl
//
// 只接受 https；显式列出的回环地址（Emulator）允许 http。
// "*.example.com" 匹配任意子域名，不匹配 example.com 本身。
type ServiceURLPolicy struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewServiceURLPolicy 创建策略，hosts 为空时使用 DefaultServiceHosts
func NewServiceURLPolicy(hosts []string) *ServiceURLPolicy {
	if len(hosts) == 0 {
		hosts = DefaultServiceHosts
	}
	p := &ServiceURLPolicy{exact: make(map[string]struct{})}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "":
		case strings.HasPrefix(h, "*."):
			p.suffixes = append(p.suffixes, h[1:])
		default:
			p.exact[h] = struct{}{}
		}
	}
	return p
}

// Allowed serviceUrl 是否可以接收回复
func (p *ServiceURLPolicy) Allowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.User != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || !p.hostAllowed(host) {
		return false
	}

	switch u.Scheme {
	case "https":
		return true
	case "http":
		return isLoopback(host)
	default:
		return false
	}
}

func (p *ServiceURLPolicy) hostAllowed(host string) bool {
	if _, ok := p.exact[host]; ok {
		return true
	}
	for _, suffix := range p.suffixes {
		if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
			return true
		}
	}
	return false
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
