// Package registry remembers printers seen by the CLI across runs.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"printlink/internal/printer"
)

var devicesBucket = []byte("devices")

var ErrNotFound = errors.New("device not found")

// Entry is one remembered printer.
type Entry struct {
	printer.Device
	LastSeen time.Time `json:"lastSeen"`
	// Alias is a user-chosen name that Lookup also matches.
	Alias string `json:"alias,omitempty"`
}

// Registry is a bbolt-backed store of Entries keyed by address.
type Registry struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the registry database at path.
func Open(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(devicesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create devices bucket: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

func key(address string) []byte {
	return []byte(strings.ToUpper(strings.TrimSpace(address)))
}

// Put stores e, keeping an existing alias and friendly name when e has none.
func (r *Registry) Put(e Entry) error {
	if strings.TrimSpace(e.Address) == "" {
		return errors.New("registry: empty address")
	}
	// Connection state is not persisted.
	e.Connected = false
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(devicesBucket)
		k := key(e.Address)
		if prev := b.Get(k); prev != nil {
			var old Entry
			if err := json.Unmarshal(prev, &old); err == nil {
				if e.Alias == "" {
					e.Alias = old.Alias
				}
				if e.FriendlyName == "" || e.FriendlyName == e.Address {
					e.FriendlyName = old.FriendlyName
				}
			}
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.Address, err)
		}
		return b.Put(k, data)
	})
}

// Seen records devices as seen at t.
func (r *Registry) Seen(devices []printer.Device, t time.Time) error {
	for _, d := range devices {
		if err := r.Put(Entry{Device: d, LastSeen: t}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Get(address string) (Entry, error) {
	var e Entry
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(devicesBucket).Get(key(address))
		if data == nil {
			return fmt.Errorf("%s: %w", address, ErrNotFound)
		}
		return json.Unmarshal(data, &e)
	})
	return e, err
}

// List returns every entry, most recently seen first.
func (r *Registry) List() ([]Entry, error) {
	var entries []Entry
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(devicesBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].LastSeen.After(entries[j].LastSeen) })
	return entries, err
}

// Lookup resolves an address, alias or friendly name to an entry. Names are
// matched case-insensitively.
func (r *Registry) Lookup(name string) (Entry, error) {
	if e, err := r.Get(name); err == nil {
		return e, nil
	}
	entries, err := r.List()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.Alias, name) || strings.EqualFold(e.FriendlyName, name) {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// SetAlias names a remembered device.
func (r *Registry) SetAlias(address, alias string) error {
	e, err := r.Get(address)
	if err != nil {
		return err
	}
	e.Alias = alias
	return r.Put(e)
}

func (r *Registry) Delete(address string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(devicesBucket).Delete(key(address))
	})
}
