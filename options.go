package adsync

import (
	"time"

	"github.com/agentstation/adsync/pkg/directory"
	"github.com/agentstation/adsync/pkg/directory/ldap"
	"github.com/agentstation/adsync/pkg/errors"
)

// Option is a function that configures a Client.
type Option func(*config) error

// config holds the Client configuration.
type config struct {
	ldap        ldap.Config
	directory   directory.Client
	fixturePath string
	journalPath string
	limits      []directory.LimitOption
}

func defaultConfig() *config {
	return &config{}
}

// describe names the configured directory for logs and the journal.
func (c *config) describe() string {
	switch {
	case c.directory != nil:
		return "custom"
	case c.fixturePath != "":
		return "file:" + c.fixturePath
	default:
		return c.ldap.ServerURL()
	}
}

// WithLDAP configures the LDAP server to reconcile against.
func WithLDAP(cfg ldap.Config) Option {
	return func(c *config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.ldap = cfg
		return nil
	}
}

// WithDirectory uses an already connected directory client. It takes
// precedence over WithLDAP and WithFixture.
func WithDirectory(client directory.Client) Option {
	return func(c *config) error {
		if client == nil {
			return &errors.ValidationError{Field: "directory", Message: "client is nil"}
		}
		c.directory = client
		return nil
	}
}

// WithFixture reconciles against an in-memory directory loaded from a YAML
// file instead of a server.
func WithFixture(path string) Option {
	return func(c *config) error {
		if path == "" {
			return &errors.ValidationError{Field: "fixture", Message: "path is empty"}
		}
		c.fixturePath = path
		return nil
	}
}

// WithJournal records every run in the SQLite journal at path.
func WithJournal(path string) Option {
	return func(c *config) error {
		c.journalPath = path
		return nil
	}
}

// WithLimits bounds every directory operation by timeout and throttles
// operations to rate per second with the given burst. A zero value keeps
// the default.
func WithLimits(timeout time.Duration, rate float64, burst int) Option {
	return func(c *config) error {
		if timeout < 0 {
			return &errors.ValidationError{Field: "timeout", Value: timeout, Message: "must not be negative"}
		}
		if timeout > 0 {
			c.limits = append(c.limits, directory.WithTimeout(timeout))
		}
		if rate != 0 || burst != 0 {
			c.limits = append(c.limits, directory.WithRate(rate, burst))
		}
		return nil
	}
}

// WithRetries sets how often a timed out directory operation is retried.
func WithRetries(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return &errors.ValidationError{Field: "retries", Value: n, Message: "must not be negative"}
		}
		c.limits = append(c.limits, directory.WithRetries(n))
		return nil
	}
}
