// Package client builds the shared outbound HTTP clients: one for upstream provider traffic and
// one, deliberately isolated, for fetching caller-supplied URLs (multimodal image inputs) where
// SSRF against internal infrastructure is a real risk.
package client

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/relaymesh/gateway/common/config"
	"github.com/relaymesh/gateway/common/logger"
	netutil "github.com/relaymesh/gateway/common/network"
)

// HTTPClient is the default outbound client used for relay requests to upstream providers.
var HTTPClient *http.Client

// ImpatientHTTPClient is a short-timeout client for quick health checks or metadata requests.
var ImpatientHTTPClient *http.Client

// UserContentRequestHTTPClient fetches caller-supplied resources (e.g. image URLs) with strict
// limits to reduce SSRF risk against internal infrastructure.
var UserContentRequestHTTPClient *http.Client

func buildUserContentDialContext(proxyURL *url.URL) func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	proxyHost := ""
	if proxyURL != nil {
		proxyHost = strings.ToLower(proxyURL.Hostname())
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "split host and port: %s", addr)
		}

		if proxyHost != "" && strings.EqualFold(host, proxyHost) {
			return dialer.DialContext(ctx, network, addr)
		}

		if ip := net.ParseIP(host); ip != nil {
			if netutil.IsForbiddenIP(ip) {
				return nil, errors.Errorf("blocked private address: %s", host)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve host: %s", host)
		}
		if len(ips) == 0 {
			return nil, errors.Errorf("no IPs found for host: %s", host)
		}
		for _, resolved := range ips {
			if netutil.IsForbiddenIP(resolved.IP) {
				return nil, errors.Errorf("blocked private address for host: %s", host)
			}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
	}
}

func createTransport(proxyURL *url.URL, restrictToPublicIPs bool) *http.Transport {
	transport := &http.Transport{
		TLSNextProto: make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if restrictToPublicIPs {
		transport.DialContext = buildUserContentDialContext(proxyURL)
	}
	return transport
}

// Init builds the shared HTTP clients from configuration. Must run once at startup, before
// executor.New reads HTTPClient and before any caller-supplied URL is fetched.
func Init() {
	if config.UserContentRequestProxy != "" {
		logger.Logger.Info("using proxy to fetch user content", zap.String("proxy", config.UserContentRequestProxy))
		proxyURL, err := url.Parse(config.UserContentRequestProxy)
		if err != nil {
			logger.Logger.Fatal("USER_CONTENT_REQUEST_PROXY set but invalid", zap.String("proxy", config.UserContentRequestProxy), zap.Error(err))
		}
		UserContentRequestHTTPClient = &http.Client{
			Transport: createTransport(proxyURL, true),
			Timeout:   time.Duration(config.UserContentRequestTimeout) * time.Second,
		}
	} else {
		UserContentRequestHTTPClient = &http.Client{
			Transport: createTransport(nil, true),
			Timeout:   time.Duration(config.UserContentRequestTimeout) * time.Second,
		}
	}

	var transport http.RoundTripper
	if config.RelayProxy != "" {
		logger.Logger.Info("using relay proxy for upstream providers", zap.String("proxy", config.RelayProxy))
		proxyURL, err := url.Parse(config.RelayProxy)
		if err != nil {
			logger.Logger.Fatal("RELAY_PROXY set but invalid", zap.String("proxy", config.RelayProxy), zap.Error(err))
		}
		transport = createTransport(proxyURL, false)
	} else {
		transport = createTransport(nil, false)
	}

	if config.RelayTimeout == 0 {
		HTTPClient = &http.Client{Transport: transport}
	} else {
		HTTPClient = &http.Client{
			Timeout:   time.Duration(config.RelayTimeout) * time.Second,
			Transport: transport,
		}
	}

	ImpatientHTTPClient = &http.Client{
		Timeout:   5 * time.Second,
		Transport: transport,
	}
}
