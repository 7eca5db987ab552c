// internal/binance/service/client.go
package service

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/net/proxy"

	"laddertrade/internal/logger"
)

type ClientConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
	ProxyAddr string // host:port of a SOCKS5 proxy, empty for direct
}

// NewFuturesClient builds a USDⓈ-M futures client. Without keys only public
// endpoints work.
func NewFuturesClient(cfg ClientConfig) *futures.Client {
	futures.UseTestnet = cfg.Testnet
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	client.HTTPClient = newHTTPClient(cfg.ProxyAddr)
	return client
}

func newHTTPClient(proxyAddr string) *http.Client {
	if proxyAddr == "" {
		return &http.Client{Timeout: 30 * time.Second}
	}
	proxyURL := &url.URL{
		Scheme: "socks5h",
		Host:   proxyAddr,
	}
	dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
	if err != nil {
		logger.Warn(context.Background(), "BinanceClient: failed to create SOCKS5 dialer, going direct",
			"proxy", proxyAddr, "error", err)
		return &http.Client{Timeout: 30 * time.Second}
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		},
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}
