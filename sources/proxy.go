package sources

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/proxy"
)

// NewHTTPClient builds the client used for registry calls. proxyURL may point at a
// SOCKS5 proxy (Tor) or an HTTP proxy (Privoxy); an empty value means a direct connection.
// Timeouts are applied per request through the context, not on the client.
func NewHTTPClient(proxyURL string) (*http.Client, error) {
	client := &http.Client{}

	if proxyURL == "" {
		return client, nil
	}

	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}

	switch parsedURL.Scheme {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{
				User:     parsedURL.User.Username(),
				Password: password,
			}
		}

		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return nil, err
		}

		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if cd, ok := dialer.(proxy.ContextDialer); ok {
					return cd.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}
		slog.Info("using SOCKS5 proxy", "proxy", parsedURL.Host)
	case "http", "https":
		client.Transport = &http.Transport{Proxy: http.ProxyURL(parsedURL)}
		slog.Info("using HTTP proxy", "proxy", parsedURL.Host)
	default:
		slog.Warn("unsupported proxy scheme, connecting directly", "scheme", parsedURL.Scheme)
	}

	return client, nil
}
