// Package storage defines the persistence contract the directory
// consumes (§4.7, §6.3): a hierarchical namespace mirroring the
// directory tree, holding subdirectory listings, session content and
// ACL blobs. The core only depends on this interface; a concrete
// back-end (filesystem, object store) is wired in at the CLI layer.
// An in-memory implementation is provided for tests.
package storage

import (
	"sync"

	"github.com/zeebo/errs"

	"github.com/dreamware/infdserver/pkg/acl"
)

// Error is the class for storage back-end failures.
var Error = errs.Class("storage")

// EntryKind tags a subdirectory listing entry.
type EntryKind int

const (
	EntrySubdirectory EntryKind = iota
	EntryLeaf
)

// Entry is one child of a stored subdirectory: its name, kind, and
// for a leaf, its plugin type tag.
type Entry struct {
	Name       string
	Kind       EntryKind
	PluginType string
}

// Backend is the storage contract consumed by the directory. Every
// operation is fallible; the directory surfaces failures to the
// originator rather than retrying silently. Paths are slash-separated
// node-name paths from the root, matching the directory's own
// namespace.
type Backend interface {
	// ReadSubdirectory lists path's children as stored.
	ReadSubdirectory(path string) ([]Entry, error)
	// CreateSubdirectory creates an empty stored subdirectory at path.
	CreateSubdirectory(path string) error
	// RemoveNode deletes the stored node of kind at path, recursively
	// for a subdirectory.
	RemoveNode(kind EntryKind, path string) error
	// ReadSession reads the content-blob for the leaf of pluginType at
	// path (the buffer's authored runs, user list, and final vectors
	// for a text leaf).
	ReadSession(pluginType, path string) ([]byte, error)
	// WriteSession writes the content-blob for the leaf at path.
	WriteSession(pluginType, path string, data []byte) error
	// ReadACL reads the acl-blob stored at path.
	ReadACL(path string) (*acl.SheetSet, error)
	// WriteACL writes the acl-blob at path.
	WriteACL(path string, sheets *acl.SheetSet) error
}

// Memory is an in-memory Backend, useful for tests and as a reference
// implementation of the contract's semantics.
type Memory struct {
	mu        sync.Mutex
	dirs      map[string][]Entry
	sessions  map[string][]byte
	acls      map[string]*acl.SheetSet
}

// NewMemory returns an empty in-memory backend with a root
// subdirectory already present.
func NewMemory() *Memory {
	return &Memory{
		dirs:     map[string][]Entry{"": {}},
		sessions: make(map[string][]byte),
		acls:     make(map[string]*acl.SheetSet),
	}
}

func (m *Memory) ReadSubdirectory(path string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.dirs[path]
	if !ok {
		return nil, Error.New("no stored subdirectory at %q", path)
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *Memory) CreateSubdirectory(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dirs[path]; ok {
		return Error.New("subdirectory %q already exists", path)
	}
	m.dirs[path] = []Entry{}
	parent, name := splitPath(path)
	m.dirs[parent] = append(m.dirs[parent], Entry{Name: name, Kind: EntrySubdirectory})
	return nil
}

func (m *Memory) RemoveNode(kind EntryKind, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kind == EntrySubdirectory {
		for stored := range m.dirs {
			if stored == path || isUnder(stored, path) {
				delete(m.dirs, stored)
			}
		}
		for stored := range m.sessions {
			if isUnder(stored, path) {
				delete(m.sessions, stored)
			}
		}
		for stored := range m.acls {
			if isUnder(stored, path) {
				delete(m.acls, stored)
			}
		}
	}
	delete(m.sessions, path)
	delete(m.acls, path)

	parent, name := splitPath(path)
	siblings := m.dirs[parent]
	for i, e := range siblings {
		if e.Name == name {
			m.dirs[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) ReadSession(pluginType, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[path]
	if !ok {
		return nil, Error.New("no stored session at %q", path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) WriteSession(pluginType, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.sessions[path] = cp
	return nil
}

func (m *Memory) ReadACL(path string) (*acl.SheetSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sheets, ok := m.acls[path]
	if !ok {
		return acl.NewSheetSet(), nil
	}
	return sheets, nil
}

func (m *Memory) WriteACL(path string, sheets *acl.SheetSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acls[path] = sheets
	return nil
}

func splitPath(path string) (parent, name string) {
	i := lastSlash(path)
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}

func isUnder(candidate, ancestor string) bool {
	if ancestor == "" {
		return candidate != ""
	}
	return len(candidate) > len(ancestor) && candidate[:len(ancestor)] == ancestor && candidate[len(ancestor)] == '/'
}
