// Package payload locates and parses the appended binary payload glued to
// the tail of an installer, uninstaller, updater, or separated-data
// executable: the magic-cookie trailer, the metadata resource table, and
// the component index. It is the lowest layer of the stack; everything
// else (archive access, file tasks, the operation runtime) is built on
// top of the offsets this package resolves.
package payload

// Marker distinguishes what role a binary plays, recovered from the
// trailer's magic_marker field.
type Marker int64

const (
	MarkerInstaller Marker = iota + 1
	MarkerUninstaller
	MarkerUpdater
	MarkerPackageManager
)

// Cookie is a fixed 64-bit tag at the very end of a payload-bearing file.
// These four constants are a closed set and must never change value: doing
// so would break every previously-built binary that carries one.
type Cookie int64

const (
	CookieInstaller     Cookie = 0x12345678_9ABCDEF0
	CookieUninstaller   Cookie = 0x13579BDF_2468ACE0
	CookieUpdater       Cookie = 0x0FEDCBA9_87654321
	CookieSeparatedData Cookie = 0x0A0B0C0D_0E0F1011
)

func (c Cookie) String() string {
	switch c {
	case CookieInstaller:
		return "installer"
	case CookieUninstaller:
		return "uninstaller"
	case CookieUpdater:
		return "updater"
	case CookieSeparatedData:
		return "separated-data"
	default:
		return "unknown"
	}
}

// knownCookies lists every recognized cookie value, in the order the
// backward scan should try them (installer first: the overwhelmingly
// common case).
var knownCookies = []Cookie{CookieInstaller, CookieUninstaller, CookieUpdater, CookieSeparatedData}

// sizeOfInt64 is the wire width of every integer field in the layout.
const sizeOfInt64 = 8

// fixedTrailerSize is the six-int64 block immediately preceding EOF:
// operations_start, operations_end, resource_count, data_block_size,
// magic_marker, magic_cookie.
const fixedTrailerSize = 6 * sizeOfInt64

// maxCookieSearch bounds the backward scan for the magic cookie. Widening
// this is a deliberate, not-yet-made decision: payloads with more than a
// megabyte of trailing data beyond the cookie are treated as malformed.
const maxCookieSearch = 1 << 20 // 1 MiB

// Trailer is the fully-parsed fixed-size trailer plus the derived offsets
// every subsequent read is expressed in terms of.
type Trailer struct {
	CookiePos          int64
	Cookie             Cookie
	OperationsStart    int64
	OperationsEnd      int64
	ResourceCount      int64
	DataBlockSize      int64
	Marker             Marker
	EndOfData          int64
	DataBlockStart     int64
	ComponentIndexOffset int64 // relative to DataBlockStart
	ComponentIndexLength int64
}

// ResourceRef is one metadata resource segment's location, translated to
// absolute file offsets.
type ResourceRef struct {
	Offset int64
	Length int64
}

// ComponentIndexEntry names one component's data segment.
type ComponentIndexEntry struct {
	Name   string
	Offset int64 // absolute file offset
	Length int64
}

// ComponentIndex is the full parsed component table.
type ComponentIndex struct {
	Entries []ComponentIndexEntry
}
