// Package profile persists connection profiles in a bbolt database.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	bbolt "go.etcd.io/bbolt"

	"mudpipe/rules"
	"mudpipe/vars"
)

var (
	bucketProfiles = []byte("profiles")
	bucketMeta     = []byte("meta")

	keyLast = []byte("last")
)

// ErrNotFound is returned for a profile name with no stored record.
var ErrNotFound = errors.New("profile not found")

// Profile bundles a game address, its login and the user's rules.
type Profile struct {
	Name           string          `json:"name"`
	Host           string          `json:"host"`
	Username       string          `json:"username,omitempty"`
	Password       string          `json:"password,omitempty"`
	Character      string          `json:"character,omitempty"`
	Aliases        []rules.Alias   `json:"aliases,omitempty"`
	Triggers       []rules.Trigger `json:"triggers,omitempty"`
	Variables      []vars.Variable `json:"variables,omitempty"`
	DisabledGroups []string        `json:"disabled_groups,omitempty"`
}

// Credential resolves the reserved login variables for p.
func (p *Profile) Credential(name string) (string, bool) {
	switch {
	case strings.EqualFold(name, vars.Username):
		return p.Username, p.Username != ""
	case strings.EqualFold(name, vars.Password):
		return p.Password, p.Password != ""
	}
	return "", false
}

// Store wraps a bbolt database holding profiles.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("profile: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketProfiles, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: create buckets: %w", err)
	}
	return &Store{bolt: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.bolt.Path()
}

func key(name string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(name)))
}

// Get loads the profile called name.
func (s *Store) Get(name string) (*Profile, error) {
	var p Profile
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketProfiles).Get(key(name))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("profile: load %s: %w", name, err)
	}
	return &p, nil
}

// Put stores p under its name and marks it as the last used profile.
func (s *Store) Put(p *Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("profile: empty name")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("profile: encode %s: %w", p.Name, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketProfiles).Put(key(p.Name), data); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyLast, key(p.Name))
	})
}

// Delete removes the profile called name.
func (s *Store) Delete(name string) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		if b.Get(key(name)) == nil {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		if err := b.Delete(key(name)); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		if string(meta.Get(keyLast)) == string(key(name)) {
			return meta.Delete(keyLast)
		}
		return nil
	})
}

// List returns the stored profile names, sorted.
func (s *Store) List() ([]string, error) {
	var names []string
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(_, v []byte) error {
			var p Profile
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			names = append(names, p.Name)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Last returns the name of the most recently saved profile, or "".
func (s *Store) Last() string {
	var name string
	s.bolt.View(func(tx *bbolt.Tx) error {
		name = string(tx.Bucket(bucketMeta).Get(keyLast))
		return nil
	})
	return name
}
