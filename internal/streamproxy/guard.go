package streamproxy

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/anatolykoptev/go_music/internal/engine"
)

// PublicIP reports whether ip is routable on the public internet.
// Loopback, private, link-local, multicast and unspecified addresses are not.
func PublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast())
}

// checkHost rejects locators that name the local machine or an internal
// address literally. Names resolving to internal addresses are caught at
// dial time by PublicTransport.
func checkHost(host string) error {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return fmt.Errorf("host %q is local: %w", host, engine.ErrValidation)
	}
	if ip := net.ParseIP(h); ip != nil && !PublicIP(ip) {
		return fmt.Errorf("host %q is not a public address: %w", host, engine.ErrValidation)
	}
	return nil
}

// errBlockedAddress is returned by the guarded dialer.
var errBlockedAddress = fmt.Errorf("blocked non-public address: %w", engine.ErrProviderUnavailable)

func dialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !PublicIP(ip) {
		return fmt.Errorf("%s: %w", host, errBlockedAddress)
	}
	return nil
}

// PublicTransport is an HTTP transport that refuses to connect to
// non-public addresses, including after DNS resolution and redirects.
func PublicTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   dialControl,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
	}
}
