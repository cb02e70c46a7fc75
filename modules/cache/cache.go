// Package cache keeps the output manifest: one entry per written artifact
// with its content hash, the sources it was built from and the run that
// last wrote it. The manifest is persisted between runs so the CLI can show
// what the previous build produced.
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/btree"
	"github.com/vmihailenco/msgpack/v5"
)

const formatVersion = 1

type Entry struct {
	Path    string    `msgpack:"path"`
	Hash    uint64    `msgpack:"hash"`
	Size    int64     `msgpack:"size"`
	Sources []string  `msgpack:"sources"`
	RunID   string    `msgpack:"run_id"`
	Updated time.Time `msgpack:"updated"`
}

type file struct {
	Version int     `msgpack:"version"`
	Entries []Entry `msgpack:"entries"`
}

// Manifest is safe for concurrent use.
type Manifest struct {
	lock    sync.RWMutex
	entries btree.Map[string, Entry]
}

func NewManifest() *Manifest {
	return &Manifest{}
}

// Record hashes the artifact at dst and stores it. changed reports whether
// the content differs from the previously recorded entry.
func (m *Manifest) Record(dst string, sources []string, runID string) (bool, error) {
	hash, size, err := HashFile(dst)
	if err != nil {
		return false, fmt.Errorf("hashing %s: %w", dst, err)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	prev, ok := m.entries.Get(dst)
	changed := !ok || prev.Hash != hash || prev.Size != size
	m.entries.Set(dst, Entry{
		Path:    dst,
		Hash:    hash,
		Size:    size,
		Sources: append([]string(nil), sources...),
		RunID:   runID,
		Updated: time.Now().UTC(),
	})
	return changed, nil
}

func (m *Manifest) Get(dst string) (Entry, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.entries.Get(dst)
}

func (m *Manifest) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.entries.Len()
}

// Entries returns every entry ordered by path.
func (m *Manifest) Entries() []Entry {
	m.lock.RLock()
	defer m.lock.RUnlock()

	out := make([]Entry, 0, m.entries.Len())
	m.entries.Scan(func(_ string, e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Digest summarises the whole manifest: paths and content hashes, in path
// order. Two manifests describing the same outputs have the same digest.
func (m *Manifest) Digest() uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, e := range m.Entries() {
		h.WriteString(e.Path)
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:], e.Hash)
		h.Write(buf[:])
	}
	return h.Sum64()
}

func (m *Manifest) Save(path string) error {
	data, err := msgpack.Marshal(file{Version: formatVersion, Entries: m.Entries()})
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest.*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a manifest written by Save. A missing file yields an empty
// manifest.
func Load(path string) (*Manifest, error) {
	m := NewManifest()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}

	var f file
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	if f.Version != formatVersion {
		return nil, fmt.Errorf("manifest %s: unsupported version %d", path, f.Version)
	}
	for _, e := range f.Entries {
		m.entries.Set(e.Path, e)
	}
	return m, nil
}

// HashFile returns the xxhash64 of the file content and its size.
func HashFile(path string) (uint64, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, err
	}
	return h.Sum64(), n, nil
}
