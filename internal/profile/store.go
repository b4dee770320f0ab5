package profile

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Store is a read-only set of profiles keyed by discipline.
type Store struct {
	profiles map[string]*Profile
	keys     []string
}

// NewStore returns a Store with the built-in profiles.
func NewStore() *Store {
	s := &Store{profiles: make(map[string]*Profile)}
	for _, p := range builtins() {
		s.profiles[p.Key] = p
	}
	s.index()
	return s
}

// Load returns the built-in profiles with the overrides in path merged in.
// An empty path yields the built-ins.
func Load(path string) (*Store, error) {
	s := NewStore()
	if path == "" {
		return s, nil
	}
	if err := s.mergeFile(path); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) index() {
	s.keys = s.keys[:0]
	for k := range s.profiles {
		s.keys = append(s.keys, k)
	}
	sort.Strings(s.keys)
}

// Get returns the profile for key, case-insensitively.
func (s *Store) Get(key string) (*Profile, bool) {
	p, ok := s.profiles[strings.ToLower(strings.TrimSpace(key))]
	return p, ok
}

// Keys returns every profile key in sorted order.
func (s *Store) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Disciplines returns the keys of every non-generic profile.
func (s *Store) Disciplines() []string {
	out := make([]string, 0, len(s.keys))
	for _, k := range s.keys {
		if k != Generic {
			out = append(out, k)
		}
	}
	return out
}

// LeadTerms returns the lead terms of every profile, without repeats.
func (s *Store) LeadTerms() []string {
	seen := map[string]bool{}
	var out []string
	for _, k := range s.keys {
		for _, t := range s.profiles[k].LeadTerms {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Select picks the profile for a scan. A focus text matching a discipline
// alias wins (first key in sorted order); then the first selected discipline
// that has a profile; then the generic profile.
func (s *Store) Select(focus string, selected []string) *Profile {
	if f := strings.ToLower(strings.TrimSpace(focus)); f != "" {
		for _, k := range s.keys {
			if k == Generic {
				continue
			}
			p := s.profiles[k]
			if strings.Contains(f, k) {
				return p
			}
			for _, a := range p.Aliases {
				if a != "" && strings.Contains(f, strings.ToLower(a)) {
					return p
				}
			}
		}
	}
	for _, sel := range selected {
		if p, ok := s.Get(sel); ok && p.Key != Generic {
			return p
		}
	}
	return s.profiles[Generic]
}

type overrideFile struct {
	Profiles map[string]overrideProfile `toml:"profiles"`
}

type overrideProfile struct {
	Aliases   []string `toml:"aliases"`
	Core      []string `toml:"core"`
	Units     string   `toml:"units"`
	LeadTerms []string `toml:"lead_terms"`
	// Replace drops the built-in lists instead of extending them.
	Replace bool `toml:"replace"`
}

func (s *Store) mergeFile(path string) error {
	var f overrideFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("profiles file %s: %w", path, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidProfile, path, err)
	}

	for key, o := range f.Profiles {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return fmt.Errorf("%w: empty profile key in %s", ErrInvalidProfile, path)
		}

		p, ok := s.profiles[key]
		if !ok || o.Replace {
			p = &Profile{Key: key, Units: s.profiles[Generic].Units}
		} else {
			cp := *p
			p = &cp
		}

		if o.Units != "" {
			re, err := regexp.Compile(o.Units)
			if err != nil {
				return fmt.Errorf("%w: profile %s units pattern: %v", ErrInvalidProfile, key, err)
			}
			p.Units = re
		}
		p.Aliases = mergeTerms(p.Aliases, o.Aliases)
		p.Core = mergeTerms(p.Core, o.Core)
		p.LeadTerms = mergeTerms(p.LeadTerms, o.LeadTerms)
		s.profiles[key] = p
	}
	s.index()
	return nil
}

func mergeTerms(base, extra []string) []string {
	out := append([]string(nil), base...)
	seen := make(map[string]bool, len(out))
	for _, t := range out {
		seen[strings.ToLower(t)] = true
	}
	for _, t := range extra {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	return out
}
