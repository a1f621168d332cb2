// Package ldap implements directory.Client over LDAP using go-ldap.
//
// Searches run over the whole subtree below the base DN. Staged entry
// changes are committed as a single Modify request with one Replace per
// attribute. A Replace without values removes the attribute and is ignored
// by the server when the attribute is already absent.
package ldap

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/agentstation/adsync/pkg/constants"
	"github.com/agentstation/adsync/pkg/directory"
	"github.com/agentstation/adsync/pkg/errors"
	"github.com/agentstation/adsync/pkg/logging"
)

// Config holds connection settings.
type Config struct {
	// URL is the server URL, e.g. ldaps://dc1.example.com. Derived from
	// Domain when empty.
	URL string
	// Domain is the DNS name of the directory, e.g. example.com.
	Domain string
	// BaseDN is the search base. Derived from Domain when empty.
	BaseDN string
	// BindDN and BindPassword authenticate the connection. An empty
	// BindDN skips the bind.
	BindDN       string
	BindPassword string
	// StartTLS upgrades a plain ldap:// connection.
	StartTLS bool
	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool
	// DialTimeout bounds connection setup.
	DialTimeout time.Duration
	// SizeLimit caps entries per search. Zero means no limit.
	SizeLimit int
}

// Validate checks that the configuration can produce a connection.
func (c Config) Validate() error {
	if c.URL == "" && c.Domain == "" {
		return errors.NewConfigError("ldap", "a domain or server URL is required", nil)
	}
	if c.BaseDN == "" && c.Domain == "" {
		return errors.NewConfigError("ldap", "a base DN is required when no domain is set", nil)
	}
	if c.BindDN != "" && c.BindPassword == "" {
		return errors.NewConfigError("ldap", fmt.Sprintf("no password for bind DN %s", c.BindDN), nil)
	}
	return nil
}

// ServerURL returns the URL to dial.
func (c Config) ServerURL() string {
	if c.URL != "" {
		return c.URL
	}
	return "ldap://" + c.Domain
}

// SearchBase returns the search base DN.
func (c Config) SearchBase() string {
	if c.BaseDN != "" {
		return c.BaseDN
	}
	return BaseDNFromDomain(c.Domain)
}

// BaseDNFromDomain turns example.com into DC=example,DC=com.
func BaseDNFromDomain(domain string) string {
	var parts []string
	for _, label := range strings.Split(strings.Trim(domain, "."), ".") {
		if label != "" {
			parts = append(parts, "DC="+label)
		}
	}
	return strings.Join(parts, ",")
}

// conn is the subset of *goldap.Conn the client uses.
type conn interface {
	Search(req *goldap.SearchRequest) (*goldap.SearchResult, error)
	Modify(req *goldap.ModifyRequest) error
	SetTimeout(timeout time.Duration)
}

// Client is a directory.Client backed by one LDAP connection.
type Client struct {
	conn      conn
	close     func()
	baseDN    string
	sizeLimit int
}

var _ directory.Client = (*Client)(nil)

// Dial connects, optionally upgrades with StartTLS and binds.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	serverURL := cfg.ServerURL()
	host := serverURL
	if u, err := url.Parse(serverURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	tlsConfig := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicit --insecure flag
		MinVersion:         tls.VersionTLS12,
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = constants.DialTimeout
	}

	logger := logging.Ctx(ctx)
	logger.Debug().Str("url", serverURL).Msg("Connecting to directory")

	c, err := goldap.DialURL(serverURL,
		goldap.DialWithDialer(&net.Dialer{Timeout: timeout}),
		goldap.DialWithTLSConfig(tlsConfig),
	)
	if err != nil {
		return nil, errors.WrapDirectory("dial", serverURL, err)
	}

	if cfg.StartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, errors.WrapDirectory("dial", serverURL, fmt.Errorf("starttls: %w", err))
		}
	}

	if cfg.BindDN != "" {
		if err := c.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
			c.Close()
			return nil, errors.WrapDirectory("bind", cfg.BindDN, err)
		}
		logger.Debug().Str("bind_dn", cfg.BindDN).Msg("Bound to directory")
	}

	return &Client{
		conn:      c,
		close:     func() { c.Close() },
		baseDN:    cfg.SearchBase(),
		sizeLimit: cfg.SizeLimit,
	}, nil
}

// BaseDN returns the search base.
func (c *Client) BaseDN() string {
	return c.baseDN
}

// Close releases the connection.
func (c *Client) Close() error {
	if c.close != nil {
		c.close()
		c.close = nil
	}
	return nil
}

// Search implements directory.Client.
func (c *Client) Search(ctx context.Context, filter directory.Filter, attrs []string) ([]*directory.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.deadline(ctx)

	req := goldap.NewSearchRequest(
		c.baseDN,
		goldap.ScopeWholeSubtree, goldap.NeverDerefAliases,
		c.sizeLimit, 0, false,
		filter.String(),
		attrs,
		nil,
	)
	res, err := c.conn.Search(req)
	if err != nil {
		return nil, c.wrap(ctx, "search", filter.String(), err)
	}

	entries := make([]*directory.Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		entries = append(entries, toEntry(e))
	}
	return entries, nil
}

// Commit implements directory.Client.
func (c *Client) Commit(ctx context.Context, entry *directory.Entry) error {
	if !entry.Pending() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.deadline(ctx)

	if err := c.conn.Modify(modifyRequest(entry)); err != nil {
		return c.wrap(ctx, "commit", entry.DN, err)
	}
	entry.Apply()
	return nil
}

func (c *Client) deadline(ctx context.Context) {
	if d, ok := ctx.Deadline(); ok {
		c.conn.SetTimeout(time.Until(d))
		return
	}
	c.conn.SetTimeout(constants.DirectoryOpTimeout)
}

// wrap maps an LDAP failure onto the module's error types. Timeouts are
// reported as the deadline so callers may retry them. A search that fails
// on the connection itself means no later row can be served and is
// reported as the directory being unavailable; a failed commit stays a
// commit failure of its row.
func (c *Client) wrap(ctx context.Context, op, target string, err error) error {
	switch {
	case ctx.Err() != nil:
		err = fmt.Errorf("%w: %w", ctx.Err(), err)
	case isTimeout(err):
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	case op == "search" && goldap.IsErrorWithCode(err, goldap.ErrorNetwork):
		op = "dial"
	}
	return errors.NewDirectoryError(op, target, err)
}

// isTimeout reports whether err is a server time limit or go-ldap's own
// request timeout, which it surfaces as a network error.
func isTimeout(err error) bool {
	if goldap.IsErrorWithCode(err, goldap.LDAPResultTimeLimitExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return goldap.IsErrorWithCode(err, goldap.ErrorNetwork) &&
		strings.Contains(err.Error(), "timed out")
}

func modifyRequest(entry *directory.Entry) *goldap.ModifyRequest {
	req := goldap.NewModifyRequest(entry.DN, nil)
	names, final := entry.Replacements()
	for _, name := range names {
		req.Replace(name, final[name])
	}
	return req
}

func toEntry(e *goldap.Entry) *directory.Entry {
	attrs := make(map[string][]string, len(e.Attributes)+1)
	for _, a := range e.Attributes {
		attrs[a.Name] = a.Values
	}
	if _, ok := attrs[constants.AttrDistinguishedName]; !ok {
		attrs[constants.AttrDistinguishedName] = []string{e.DN}
	}
	return directory.NewEntry(e.DN, attrs)
}
