// Package acl loads the analyst directory: who may call the API, with which
// token, and which source labels each analyst can see.
package acl

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Analyst is one directory entry.
type Analyst struct {
	Name    string   `yaml:"name"`
	Token   string   `yaml:"token"`
	Sources []string `yaml:"sources"`
	Admin   bool     `yaml:"admin"`
}

type file struct {
	Analysts []Analyst `yaml:"analysts"`
}

type entry struct {
	name    string
	digest  [sha256.Size]byte
	sources []string
	admin   bool
}

// Directory resolves tokens to analysts and analysts to sources. It is
// immutable after Load and safe for concurrent use.
type Directory struct {
	entries []entry
	byName  map[string]int
}

// Load reads a YAML directory file from path.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("acl read: %w", err)
	}
	return Parse(data)
}

// Parse builds a Directory from YAML. Names must be unique and every analyst
// needs a token.
func Parse(data []byte) (*Directory, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("acl unmarshal: %w", err)
	}

	d := &Directory{byName: make(map[string]int, len(f.Analysts))}
	for i, a := range f.Analysts {
		if a.Name == "" {
			return nil, fmt.Errorf("acl: analyst %d has no name", i)
		}
		if a.Token == "" {
			return nil, fmt.Errorf("acl: analyst %q has no token", a.Name)
		}
		if _, dup := d.byName[a.Name]; dup {
			return nil, fmt.Errorf("acl: duplicate analyst %q", a.Name)
		}
		d.byName[a.Name] = len(d.entries)
		d.entries = append(d.entries, entry{
			name:    a.Name,
			digest:  sha256.Sum256([]byte(a.Token)),
			sources: append([]string(nil), a.Sources...),
			admin:   a.Admin,
		})
	}
	return d, nil
}

// Sources returns the labels visible to analyst. Unknown analysts see
// nothing.
func (d *Directory) Sources(_ context.Context, analyst string) ([]string, error) {
	i, ok := d.byName[analyst]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), d.entries[i].sources...), nil
}

// IsAdmin reports whether analyst may remove objects.
func (d *Directory) IsAdmin(_ context.Context, analyst string) (bool, error) {
	i, ok := d.byName[analyst]
	return ok && d.entries[i].admin, nil
}

// Lookup returns the analyst owning token. Every entry is compared in
// constant time.
func (d *Directory) Lookup(token string) (string, bool) {
	got := sha256.Sum256([]byte(token))
	name, found := "", false
	for _, e := range d.entries {
		if subtle.ConstantTimeCompare(got[:], e.digest[:]) == 1 {
			name, found = e.name, true
		}
	}
	return name, found
}

// Len returns the number of analysts.
func (d *Directory) Len() int { return len(d.entries) }
