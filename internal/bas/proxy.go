package bas

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"activation-relay/internal/config"
)

// proxyFunc translates the proxy settings into an http.Transport Proxy hook.
// A nil func with a nil error means requests go out directly.
func proxyFunc(cfg config.ProxyConfig, log logrus.FieldLogger) (func(*http.Request) (*url.URL, error), error) {
	if !cfg.UseProxy || strings.TrimSpace(cfg.Address) == "" {
		return nil, nil
	}

	proxyURL, err := url.Parse(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy address %q: %w", cfg.Address, err)
	}

	switch {
	case cfg.UseDefaultCredentials:
		// Integrated Windows credentials do not exist here; whatever userinfo the
		// address carries is used as is.
		log.Warn("proxy default credentials requested; using credentials from the proxy address only")
	case cfg.Username != "":
		user := cfg.Username
		if cfg.Domain != "" {
			user = cfg.Domain + `\` + cfg.Username
		}
		proxyURL.User = url.UserPassword(user, cfg.Password)
	}

	return func(req *http.Request) (*url.URL, error) {
		if cfg.BypassOnLocal && isLocalHost(req.URL.Hostname()) {
			return nil, nil
		}
		return proxyURL, nil
	}, nil
}

// isLocalHost mirrors the usual bypass-on-local rule: dotless intranet names,
// localhost and loopback or private addresses skip the proxy.
func isLocalHost(host string) bool {
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
	}
	return !strings.Contains(host, ".")
}
