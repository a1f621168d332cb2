// Package application defines what commands need from the application.
//
// Commands accept the Application interface rather than the concrete App,
// so they can be tested with Mock:
//
//	mock := &application.Mock{
//	    ClientFunc: func(opts ...adsync.Option) (adsync.Client, error) {
//	        return adsync.New(adsync.WithDirectory(dir))
//	    },
//	}
//	cmd := sync.NewCommand(mock)
package application

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/adsync"
	"github.com/agentstation/adsync/pkg/directory/ldap"
)

// Settings are the directory and journal settings from the config file,
// the environment and the built-in defaults. Command flags override them.
type Settings struct {
	LDAP        ldap.Config
	Fixture     string
	JournalPath string
	OpTimeout   time.Duration
	Rate        float64
	Burst       int
	Retries     int
}

// Application provides the application interface that commands need.
//
// Thread Safety: All methods must be safe for concurrent access.
type Application interface {
	// Client creates an adsync client with the given options.
	Client(opts ...adsync.Option) (adsync.Client, error)

	// Settings returns the configured defaults for directory commands.
	Settings() Settings

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// OutputFormat returns the configured output format.
	OutputFormat() string

	// Quiet reports whether progress output is suppressed.
	Quiet() bool

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}
