package sync

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/adsync"
	"github.com/agentstation/adsync/internal/cmd/application"
	syncopts "github.com/agentstation/adsync/pkg/sync"
)

// Flags holds the sync command flags. Directory and limit flags left unset
// fall back to the configured settings.
type Flags struct {
	Input   string
	Mapping string

	WhatIf        bool
	LooseMatching bool
	LooseSkipKey  bool
	Select        []string
	References    []string
	Timeout       time.Duration

	Domain   string
	URL      string
	BaseDN   string
	BindDN   string
	StartTLS bool
	Insecure bool

	OpTimeout time.Duration
	Rate      float64
	Burst     int
	Retries   int

	DirectoryFile string
	Journal       string
	NoJournal     bool
}

func addFlags(cmd *cobra.Command) *Flags {
	flags := &Flags{}
	f := cmd.Flags()

	f.StringVarP(&flags.Input, "input", "i", "", "delimited source file")
	f.StringVarP(&flags.Mapping, "mapping", "m", "", "mapping file (source=attribute lines, or .yaml)")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("mapping")

	f.BoolVar(&flags.WhatIf, "whatif", false, "report changes without writing them")
	f.BoolVar(&flags.LooseMatching, "loose-matching", false, "match unmatched rows by full name")
	f.BoolVar(&flags.LooseSkipKey, "loose-skip-key", false, "do not write the key attribute on rows matched by name")
	f.StringSliceVar(&flags.Select, "select", nil, "only process keys matching these globs or regexes (prefix ! to exclude)")
	f.StringSliceVar(&flags.References, "reference", nil, "attributes resolved from \"<first> <last>\" to a DN (default manager)")
	f.DurationVar(&flags.Timeout, "timeout", 0, "stop the run after this long (0 for no limit)")

	f.StringVarP(&flags.Domain, "domain", "d", "", "directory DNS domain (default from config or USERDNSDOMAIN)")
	f.StringVar(&flags.URL, "url", "", "directory server URL, e.g. ldaps://dc1.example.com")
	f.StringVar(&flags.BaseDN, "base-dn", "", "search base (default derived from the domain)")
	f.StringVar(&flags.BindDN, "bind-dn", "", "bind DN; the password is read from ADSYNC_BIND_PASSWORD")
	f.BoolVar(&flags.StartTLS, "start-tls", false, "upgrade the connection with StartTLS")
	f.BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")

	f.DurationVar(&flags.OpTimeout, "op-timeout", 0, "deadline for each directory operation")
	f.Float64Var(&flags.Rate, "rate", 0, "directory operations per second (negative for no limit)")
	f.IntVar(&flags.Burst, "burst", 0, "burst size for the rate limit")
	f.IntVar(&flags.Retries, "retries", 0, "retries for timed out directory operations")

	f.StringVar(&flags.DirectoryFile, "directory-file", "", "reconcile against a YAML directory fixture instead of a server")
	f.StringVar(&flags.Journal, "journal", "", "journal database (default ~/.adsync/journal.db)")
	f.BoolVar(&flags.NoJournal, "no-journal", false, "do not record the run")

	return flags
}

// clientOptions merges flags over settings.
func clientOptions(cmd *cobra.Command, flags *Flags, settings application.Settings) []adsync.Option {
	changed := cmd.Flags().Changed

	cfg := settings.LDAP
	if changed("domain") {
		cfg.Domain = flags.Domain
	}
	if changed("url") {
		cfg.URL = flags.URL
	}
	if changed("base-dn") {
		cfg.BaseDN = flags.BaseDN
	}
	if changed("bind-dn") {
		cfg.BindDN = flags.BindDN
	}
	if changed("start-tls") {
		cfg.StartTLS = flags.StartTLS
	}
	if changed("insecure") {
		cfg.InsecureSkipVerify = flags.Insecure
	}

	fixture := settings.Fixture
	if changed("directory-file") {
		fixture = flags.DirectoryFile
	}

	var opts []adsync.Option
	if fixture != "" {
		opts = append(opts, adsync.WithFixture(fixture))
	} else {
		opts = append(opts, adsync.WithLDAP(cfg))
	}

	opTimeout, rate, burst, retries := settings.OpTimeout, settings.Rate, settings.Burst, settings.Retries
	if changed("op-timeout") {
		opTimeout = flags.OpTimeout
	}
	if changed("rate") {
		rate = flags.Rate
	}
	if changed("burst") {
		burst = flags.Burst
	}
	if changed("retries") {
		retries = flags.Retries
	}
	opts = append(opts, adsync.WithLimits(opTimeout, rate, burst), adsync.WithRetries(retries))

	journal := settings.JournalPath
	if changed("journal") {
		journal = flags.Journal
	}
	if journal != "" && !flags.NoJournal {
		opts = append(opts, adsync.WithJournal(journal))
	}
	return opts
}

// syncOptions turns the key argument and the run flags into run options.
func syncOptions(key string, flags *Flags) []adsync.SyncOption {
	opts := []adsync.SyncOption{
		syncopts.WithKeyField(key),
		syncopts.WithWhatIf(flags.WhatIf),
		syncopts.WithLooseMatching(flags.LooseMatching),
		syncopts.WithLooseIncludesKey(!flags.LooseSkipKey),
		syncopts.WithTimeout(flags.Timeout),
	}
	if len(flags.Select) > 0 {
		opts = append(opts, syncopts.WithSelect(flags.Select...))
	}
	if len(flags.References) > 0 {
		opts = append(opts, syncopts.WithReferenceAttributes(flags.References...))
	}
	return opts
}
