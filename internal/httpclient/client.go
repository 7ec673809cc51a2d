// Package httpclient provides an HTTP client that can refuse requests
// to private and link-local addresses. Runners that talk to
// operator-supplied URLs use it so a data source configuration cannot
// be pointed at internal infrastructure (cloud metadata endpoints,
// localhost admin ports).
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redbeam/redbeam/errors"
)

// Options controls the guard behavior.
type Options struct {
	// BlockPrivateAddresses refuses loopback, RFC 1918, link-local,
	// multicast, and reserved destinations, both by hostname and after
	// DNS resolution.
	BlockPrivateAddresses bool
	// AllowedSchemes defaults to http and https.
	AllowedSchemes []string
	// MaxRedirects defaults to 10. Redirect targets are re-validated.
	MaxRedirects int
}

// Client is an http.Client with request validation in front of it.
type Client struct {
	*http.Client
	opts Options
}

// New builds a guarded client with the given request timeout.
func New(timeout time.Duration, opts Options) *Client {
	if len(opts.AllowedSchemes) == 0 {
		opts.AllowedSchemes = []string{"http", "https"}
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}

	c := &Client{
		Client: &http.Client{Timeout: timeout},
		opts:   opts,
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.opts.MaxRedirects {
			return errors.Newf("stopped after %d redirects", c.opts.MaxRedirects)
		}
		if err := c.validate(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	if opts.BlockPrivateAddresses {
		// Resolve-then-check in the dialer so DNS rebinding cannot slip a
		// private destination past the hostname check.
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		c.Transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, _, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, errors.Wrap(err, "invalid address")
				}
				ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to resolve host %q", host)
				}
				for _, ip := range ips {
					if isBlockedIP(ip) {
						return nil, errors.Newf("private address blocked: %s", ip)
					}
				}
				return dialer.DialContext(ctx, network, addr)
			},
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	return c
}

// Do executes a request after validating its URL.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.validate(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}

// Get fetches a URL after validating it.
func (c *Client) Get(rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validate(u); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Get(rawURL)
}

// ValidateURL checks a URL string against the guard without fetching it.
func (c *Client) ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}
	return c.validate(u)
}

func (c *Client) validate(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.opts.AllowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed", scheme)
	}

	// http://evil.com@10.0.0.1/ parses with a userinfo section; refuse
	// the whole shape rather than reason about it.
	if u.User != nil {
		return errors.New("URL must not carry credentials")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}

	if c.opts.BlockPrivateAddresses {
		if isLocalhostName(hostname) {
			return errors.Newf("localhost access blocked: %s", hostname)
		}
		if ip := net.ParseIP(hostname); ip != nil && isBlockedIP(ip) {
			return errors.Newf("private address blocked: %s", hostname)
		}
	}
	return nil
}

// isBlockedIP reports whether an address belongs to a private or
// special-use range that guarded requests must never reach.
func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}
	// 240.0.0.0/4 reserved.
	if ip4 := ip.To4(); ip4 != nil && ip4[0] >= 240 {
		return true
	}
	return false
}

func isLocalhostName(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}
