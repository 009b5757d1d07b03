package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/project-tktt/immo-crawler/internal/common/headers"
	utls "github.com/refraction-networking/utls"
)

// Fingerprint names a TLS ClientHello to impersonate
type Fingerprint string

const (
	FingerprintNone       Fingerprint = ""
	FingerprintChrome120  Fingerprint = "chrome120"
	FingerprintChromeAuto Fingerprint = "chrome"
	FingerprintFirefox120 Fingerprint = "firefox120"
	FingerprintFirefox    Fingerprint = "firefox"
	FingerprintSafari16   Fingerprint = "safari16"
	FingerprintIOS14      Fingerprint = "ios14"
)

var helloIDs = map[Fingerprint]utls.ClientHelloID{
	FingerprintChrome120:  utls.HelloChrome_120,
	FingerprintChromeAuto: utls.HelloChrome_Auto,
	FingerprintFirefox120: utls.HelloFirefox_120,
	FingerprintFirefox:    utls.HelloFirefox_Auto,
	FingerprintSafari16:   utls.HelloSafari_16_0,
	FingerprintIOS14:      utls.HelloIOS_14,
}

// Fingerprints matching each header family, so TLS and headers tell the same story
var familyFingerprints = map[headers.Family][]Fingerprint{
	headers.FamilyChrome:  {FingerprintChrome120, FingerprintChromeAuto},
	headers.FamilyFirefox: {FingerprintFirefox120, FingerprintFirefox},
	headers.FamilySafari:  {FingerprintSafari16, FingerprintIOS14},
}

func familyOf(fp Fingerprint) headers.Family {
	for family, pool := range familyFingerprints {
		for _, candidate := range pool {
			if candidate == fp {
				return family
			}
		}
	}
	return ""
}

// FingerprintSupported reports whether fp can be impersonated in this build
func FingerprintSupported(fp Fingerprint) bool {
	id, ok := helloIDs[fp]
	if !ok {
		return false
	}
	_, err := helloSpec(id)
	return err == nil
}

// helloSpec returns the ClientHello of id restricted to HTTP/1.1 ALPN, since
// the request path is served by net/http's HTTP/1.1 client.
func helloSpec(id utls.ClientHelloID) (utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return spec, err
	}
	for _, ext := range spec.Extensions {
		switch e := ext.(type) {
		case *utls.ALPNExtension:
			e.AlpnProtocols = []string{"http/1.1"}
		case *utls.ApplicationSettingsExtension:
			e.SupportedProtocols = []string{"http/1.1"}
		}
	}
	return spec, nil
}

// newFingerprintTransport dials TLS with the ClientHello of fp
func newFingerprintTransport(fp Fingerprint, timeout time.Duration) (*http.Transport, error) {
	id, ok := helloIDs[fp]
	if !ok {
		return nil, fmt.Errorf("unknown fingerprint %q", fp)
	}
	if _, err := helloSpec(id); err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", fp, err)
	}

	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	t := newPlainTransport(timeout)
	t.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		raw, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		spec, err := helloSpec(id)
		if err != nil {
			raw.Close()
			return nil, err
		}
		conn := utls.UClient(raw, &utls.Config{ServerName: host}, utls.HelloCustom)
		if err := conn.ApplyPreset(&spec); err != nil {
			raw.Close()
			return nil, fmt.Errorf("apply preset: %w", err)
		}
		if err := conn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		return conn, nil
	}
	return t, nil
}

func newPlainTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		DisableCompression:    true,
	}
}
