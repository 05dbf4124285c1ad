package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ProxyConfig is the parsed form of the proxy credentials file. Credentials
// must never be logged (SPEC_FULL.md §6 / original_source/tavily_scraper/core/models.py's
// ProxyConfig).
type ProxyConfig struct {
	Host     string
	HTTPPort int
	HTTPSPort int
	Socks5Port int
	Username string
	Password string
}

type proxyFile struct {
	Proxy struct {
		Hostname string `json:"hostname"`
		Port     struct {
			HTTP   int `json:"http"`
			HTTPS  int `json:"https"`
			Socks5 int `json:"socks5"`
		} `json:"port"`
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"proxy"`
}

// LoadProxyConfig reads a proxy credentials JSON file, grounded on
// original_source/tavily_scraper/config/env.py's load_proxy_config_from_json.
func LoadProxyConfig(path string) (*ProxyConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy config: %w", err)
	}
	var parsed proxyFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse proxy config: %w", err)
	}
	host := parsed.Proxy.Hostname
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	return &ProxyConfig{
		Host:       host,
		HTTPPort:   parsed.Proxy.Port.HTTP,
		HTTPSPort:  parsed.Proxy.Port.HTTPS,
		Socks5Port: parsed.Proxy.Port.Socks5,
		Username:   parsed.Proxy.Username,
		Password:   parsed.Proxy.Password,
	}, nil
}

// URLFor builds a proxy URL string for the given scheme ("http" or "https"),
// embedding credentials only in the returned value, never in logs.
func (p *ProxyConfig) URLFor(scheme string) string {
	if p == nil || p.Host == "" {
		return ""
	}
	port := p.HTTPPort
	if scheme == "https" {
		port = p.HTTPSPort
	}
	auth := ""
	if p.Username != "" {
		auth = p.Username + ":" + p.Password + "@"
	}
	return fmt.Sprintf("http://%s%s:%d", auth, p.Host, port)
}
