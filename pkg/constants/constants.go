// Package constants provides shared constants used throughout the adsync codebase.
// This includes directory attribute names, timeouts, limits and file permissions
// that should be consistent across the application.
package constants

import "time"

// Directory attribute names used by the reconciliation engine
const (
	// DefaultKeyAttribute is the directory attribute searched by the exact key match
	DefaultKeyAttribute = "employeeID"

	// AttrGivenName holds a user's first name
	AttrGivenName = "givenName"

	// AttrSurname holds a user's last name
	AttrSurname = "sn"

	// AttrCommonName holds a user's full name, searched by loose matching
	AttrCommonName = "cn"

	// AttrDistinguishedName holds an entry's DN
	AttrDistinguishedName = "distinguishedName"

	// AttrManager is the default relationship-reference attribute
	AttrManager = "manager"
)

// Timeout constants
const (
	// DirectoryOpTimeout bounds a single directory search or commit
	DirectoryOpTimeout = 30 * time.Second

	// DialTimeout is the timeout for establishing the directory connection
	DialTimeout = 10 * time.Second

	// RetryBackoff is the base backoff duration for retries
	RetryBackoff = 1 * time.Second

	// MaxRetryBackoff is the maximum backoff duration for retries
	MaxRetryBackoff = 30 * time.Second
)

// Limit constants
const (
	// MaxRetries is the maximum number of retry attempts for a timed out directory operation
	MaxRetries = 3

	// DefaultRateLimit is the default number of directory operations per second
	DefaultRateLimit = 50

	// BurstSize is the token bucket burst size for rate limiting
	BurstSize = 10

	// SniffLines is the number of lines sampled when detecting the source delimiter
	SniffLines = 10

	// DefaultHistoryLimit is the number of journal runs listed by default
	DefaultHistoryLimit = 20
)

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)

// Display constants
const (
	// IgnoredColumn marks a source column without a mapping
	IgnoredColumn = "<Ignored>"

	// UniqueKeyMarker marks the key column in schema listings
	UniqueKeyMarker = "<< UNIQUE KEY >>"
)

// Format constants
const (
	// TimeFormatHuman is a human-readable time format
	TimeFormatHuman = "Jan 2, 2006 at 3:04pm MST"
)

// Application constants
const (
	// AppName names the CLI, its config file and its state directory
	AppName = "adsync"

	// EnvPrefix prefixes every configuration environment variable
	EnvPrefix = "ADSYNC"

	// JournalFile is the journal database name inside the state directory
	JournalFile = "journal.db"
)
