// Package state persists the durable on-disk record of what is installed
// (packages.xml), the configured repository list, and an in-memory,
// current-session-only operation log rollback consumes, per spec.md §3's
// PackagesState/RepositorySettings/SessionLog supplements. Locking and
// write-temp-then-atomic-rename follow the teacher's internal/state.Store
// pattern, generalized from a generic-typed JSON state file to this
// engine's fixed XML packages.xml shape (spec.md §6.2 fixes the wire
// format for the sibling Updates.xml/components.xml documents; packages.xml
// follows the same convention for consistency).
package state

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	insterrors "github.com/installforge/core/internal/errors"
)

// PackageRecord is one installed component's durable bookkeeping entry.
type PackageRecord struct {
	Name               string    `xml:"Name,attr"`
	Version            string    `xml:"Version,attr"`
	InstallDate        time.Time `xml:"InstallDate,attr"`
	LastUpdateDate     time.Time `xml:"LastUpdateDate,attr,omitempty"`
	ForcedInstallation bool      `xml:"ForcedInstallation,attr,omitempty"`
}

// Repository is one configured metadata source, mutated by MetadataJob's
// RepositoryUpdate actions and by the CLI's --addRepository family of
// flags (spec.md §6.3).
type Repository struct {
	URL         string `xml:"Url,attr"`
	Username    string `xml:"Username,attr,omitempty"`
	Password    string `xml:"Password,attr,omitempty"`
	DisplayName string `xml:"DisplayName,attr,omitempty"`
	Enabled     bool   `xml:"Enabled,attr"`
	Temporary   bool   `xml:"Temporary,attr,omitempty"`

	// RequireSignature demands a verified Sigstore bundle sidecar for
	// every package this repository advertises, on top of the mandatory
	// SHA-1 checksum check.
	RequireSignature bool `xml:"RequireSignature,attr,omitempty"`
}

// Document is the root packages.xml shape: what's installed plus the
// repository list, persisted together so a later maintenance-tool run
// remembers both.
type Document struct {
	XMLName      xml.Name        `xml:"Packages"`
	Packages     []PackageRecord `xml:"Package"`
	Repositories []Repository    `xml:"Repositories>Repository"`
}

// find returns the index of name in d.Packages, or -1.
func (d *Document) find(name string) int {
	for i := range d.Packages {
		if d.Packages[i].Name == name {
			return i
		}
	}
	return -1
}

// Upsert adds or replaces the record for rec.Name.
func (d *Document) Upsert(rec PackageRecord) {
	if i := d.find(rec.Name); i >= 0 {
		d.Packages[i] = rec
		return
	}
	d.Packages = append(d.Packages, rec)
}

// Remove deletes name's record, if present.
func (d *Document) Remove(name string) {
	if i := d.find(name); i >= 0 {
		d.Packages = append(d.Packages[:i], d.Packages[i+1:]...)
	}
}

// Get returns name's record and whether it was found.
func (d *Document) Get(name string) (PackageRecord, bool) {
	if i := d.find(name); i >= 0 {
		return d.Packages[i], true
	}
	return PackageRecord{}, false
}

// SessionEntry is one operation executed during the current install
// session, kept only in memory: rollback undoes these in reverse order
// without touching any operation from a prior, already-committed session
// (spec.md §4.8).
type SessionEntry struct {
	ComponentName string
	OperationKind string
	OperationXML  []byte
}

// SessionLog accumulates SessionEntry values for the lifetime of one
// InstallRuntime run.
type SessionLog struct {
	entries []SessionEntry
}

// Append records an executed operation.
func (s *SessionLog) Append(e SessionEntry) {
	s.entries = append(s.entries, e)
}

// Entries returns every recorded entry, oldest first.
func (s *SessionLog) Entries() []SessionEntry {
	return s.entries
}

// Reversed returns every recorded entry, newest first, the order rollback
// replays them in.
func (s *SessionLog) Reversed() []SessionEntry {
	out := make([]SessionEntry, len(s.entries))
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e
	}
	return out
}

// Store persists a Document to a directory, guarded by a PID-stamped file
// lock so only one installer/uninstaller session touches it at a time.
type Store struct {
	dir      string
	docPath  string
	lockPath string
	fileLock *flock.Flock
	locked   bool
}

// NewStore returns a Store rooted at dir, creating dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryIO, "", "create state directory", err)
	}
	return &Store{
		dir:      dir,
		docPath:  filepath.Join(dir, "packages.xml"),
		lockPath: filepath.Join(dir, "packages.lock"),
		fileLock: flock.New(filepath.Join(dir, "packages.lock")),
	}, nil
}

// Lock acquires the exclusive session lock, recording this process's PID,
// matching the teacher's single-active-session convention.
func (s *Store) Lock() error {
	if s.locked {
		return nil
	}
	ok, err := s.fileLock.TryLock()
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "acquire packages.xml lock", err)
	}
	if !ok {
		pid := s.readLockPID()
		if pid > 0 {
			return insterrors.New(insterrors.CategoryFatal, insterrors.CodeFatalSession, "another installer session is already running").WithDetail("pid", pid)
		}
		return insterrors.New(insterrors.CategoryFatal, insterrors.CodeFatalSession, "another installer session is already running")
	}
	if err := os.WriteFile(s.lockPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = s.fileLock.Unlock()
		return insterrors.Wrap(insterrors.CategoryIO, "", "write lock pid", err)
	}
	s.locked = true
	return nil
}

// Unlock releases the session lock.
func (s *Store) Unlock() error {
	if !s.locked {
		return nil
	}
	if err := s.fileLock.Unlock(); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "release packages.xml lock", err)
	}
	s.locked = false
	return nil
}

func (s *Store) readLockPID() int {
	data, err := os.ReadFile(s.lockPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0
	}
	return pid
}

// Load reads packages.xml, returning an empty Document if it doesn't
// exist yet. Must be called after Lock when the caller intends to Save
// afterward.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.docPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{}, nil
		}
		return nil, insterrors.Wrap(insterrors.CategoryIO, "", "read packages.xml", err)
	}
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryIO, "", "parse packages.xml", err)
	}
	return &doc, nil
}

// Save writes doc to packages.xml atomically (write-temp-then-rename),
// and must be called with the lock held.
func (s *Store) Save(doc *Document) error {
	if !s.locked {
		return insterrors.New(insterrors.CategoryFatal, insterrors.CodeFatalSession, "must hold the lock before saving packages.xml")
	}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryBinary, "", "marshal packages.xml", err)
	}
	tmp := s.docPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "write packages.xml tempfile", err)
	}
	if err := os.Rename(tmp, s.docPath); err != nil {
		os.Remove(tmp)
		return insterrors.Wrap(insterrors.CategoryIO, "", "rename packages.xml into place", err)
	}
	return nil
}

// DocPath returns the path to packages.xml.
func (s *Store) DocPath() string { return s.docPath }
