// Package memory provides an in-memory directory.Client. It records every
// call it receives and supports error injection, and can be preloaded from a
// YAML fixture for offline runs.
package memory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/adsync/pkg/constants"
	"github.com/agentstation/adsync/pkg/directory"
	"github.com/agentstation/adsync/pkg/errors"
)

// Method names used in recorded calls.
const (
	MethodSearch = "search"
	MethodCommit = "commit"
)

// Call is one recorded client call.
type Call struct {
	Method  string
	Filter  string
	DN      string
	Changes []directory.Change
}

// Fixture is the YAML layout accepted by WithPreload and LoadFile.
type Fixture struct {
	Entries []FixtureEntry `yaml:"entries"`
}

// FixtureEntry is one directory object in a fixture.
type FixtureEntry struct {
	DN         string              `yaml:"dn"`
	Attributes map[string][]string `yaml:"attributes"`
}

type record struct {
	dn    string
	attrs map[string][]string
}

// Directory is an in-memory directory.Client.
type Directory struct {
	mu         sync.RWMutex
	records    []*record
	calls      []Call
	readOnly   bool
	delay      time.Duration
	searchErr  error
	commitErrs map[string]error
}

// Option is a function that configures a Directory.
type Option func(*Directory) error

// WithEntry adds an entry.
func WithEntry(dn string, attrs map[string][]string) Option {
	return func(d *Directory) error {
		return d.Add(dn, attrs)
	}
}

// WithPreload adds the entries of a YAML fixture.
func WithPreload(data []byte) Option {
	return func(d *Directory) error {
		if len(data) == 0 {
			return fmt.Errorf("preload data cannot be empty")
		}
		var fx Fixture
		if err := yaml.Unmarshal(data, &fx); err != nil {
			return errors.WrapParse("yaml", "", err)
		}
		for _, e := range fx.Entries {
			if err := d.Add(e.DN, e.Attributes); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithReadOnly makes every Commit fail.
func WithReadOnly(readOnly bool) Option {
	return func(d *Directory) error {
		d.readOnly = readOnly
		return nil
	}
}

// WithDelay makes every call block for d or until its context ends.
func WithDelay(delay time.Duration) Option {
	return func(d *Directory) error {
		d.delay = delay
		return nil
	}
}

// New creates an in-memory directory.
func New(opts ...Option) (*Directory, error) {
	d := &Directory{commitErrs: make(map[string]error)}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("applying memory option: %w", err)
		}
	}
	return d, nil
}

// LoadFile creates a directory preloaded from the YAML fixture at path.
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	return New(WithPreload(data))
}

// Add inserts an entry. DNs are unique, ignoring case.
func (d *Directory) Add(dn string, attrs map[string][]string) error {
	if dn == "" {
		return &errors.ValidationError{Field: "dn", Message: "cannot be empty"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.find(dn) != nil {
		return &errors.ValidationError{Field: "dn", Value: dn, Message: "already exists"}
	}
	r := &record{dn: dn, attrs: make(map[string][]string, len(attrs))}
	for name, values := range attrs {
		r.attrs[name] = append([]string(nil), values...)
	}
	d.records = append(d.records, r)
	return nil
}

// FailSearch makes every subsequent Search return err. Nil clears it.
func (d *Directory) FailSearch(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.searchErr = err
}

// FailCommit makes Commit of the entry with dn return err. Nil clears it.
func (d *Directory) FailCommit(dn string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.commitErrs, strings.ToLower(dn))
		return
	}
	d.commitErrs[strings.ToLower(dn)] = err
}

// Search implements directory.Client.
func (d *Directory) Search(ctx context.Context, filter directory.Filter, attrs []string) ([]*directory.Entry, error) {
	d.record(Call{Method: MethodSearch, Filter: filter.String()})
	if err := d.wait(ctx); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.searchErr != nil {
		return nil, d.searchErr
	}

	var out []*directory.Entry
	for _, r := range d.records {
		full := directory.NewEntry(r.dn, r.attrs)
		if !filter.Matches(full) {
			continue
		}
		out = append(out, directory.NewEntry(r.dn, r.project(attrs)))
	}
	return out, nil
}

// Commit implements directory.Client.
func (d *Directory) Commit(ctx context.Context, entry *directory.Entry) error {
	d.record(Call{Method: MethodCommit, DN: entry.DN, Changes: entry.Changes()})
	if err := d.wait(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readOnly {
		return errors.NewDirectoryError("commit", entry.DN, fmt.Errorf("directory is read-only"))
	}
	if err, ok := d.commitErrs[strings.ToLower(entry.DN)]; ok {
		return errors.NewDirectoryError("commit", entry.DN, err)
	}
	r := d.find(entry.DN)
	if r == nil {
		return errors.NewDirectoryError("commit", entry.DN, errors.NewNotFoundError("entry", entry.DN))
	}

	names, final := entry.Replacements()
	for _, name := range names {
		key := r.key(name)
		if len(final[name]) == 0 {
			delete(r.attrs, key)
			continue
		}
		r.attrs[key] = final[name]
	}
	entry.Apply()
	return nil
}

// Entry returns a snapshot of the stored entry with dn.
func (d *Directory) Entry(dn string) (*directory.Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r := d.find(dn)
	if r == nil {
		return nil, false
	}
	return directory.NewEntry(r.dn, r.attrs), true
}

// Len returns the number of stored entries.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Calls returns the recorded calls in order.
func (d *Directory) Calls() []Call {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallsTo returns the recorded calls of one method.
func (d *Directory) CallsTo(method string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets the recorded calls.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

func (d *Directory) record(c Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
}

func (d *Directory) wait(ctx context.Context) error {
	if d.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.delay):
		return nil
	}
}

func (d *Directory) find(dn string) *record {
	for _, r := range d.records {
		if strings.EqualFold(r.dn, dn) {
			return r
		}
	}
	return nil
}

// key returns the stored spelling of an attribute name.
func (r *record) key(name string) string {
	for k := range r.attrs {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

// project returns the requested attributes. An empty request returns all.
func (r *record) project(attrs []string) map[string][]string {
	if len(attrs) == 0 {
		return r.attrs
	}
	out := make(map[string][]string, len(attrs))
	for _, name := range attrs {
		if strings.EqualFold(name, constants.AttrDistinguishedName) {
			out[name] = []string{r.dn}
			continue
		}
		if values, ok := r.attrs[r.key(name)]; ok {
			out[name] = values
		}
	}
	return out
}
