// Package pager implements the central I/O layer of spec §4.5: page
// open/create/read/write, allocation and freelist, an LRU-ish bounded page
// cache, and shadow-page transaction mode. Grounded on the teacher's
// pager.go (PageBufferPool, Pager, superblock handling), generalized from
// the teacher's append-only-WAL-record-per-write model to spec's
// shadow-paging model (spec §9: "Shadow paging is preferred to in-place
// WAL-journaling in this design").
package pager

import (
	"encoding/binary"

	"github.com/dsqlcore/dsqlite/internal/dsqlerr"
)

// DatabaseHeader is the fixed-layout structure stored in page 1
// (spec §6.1). All integers are big-endian.
type DatabaseHeader struct {
	Version       uint32
	PageSize      uint32
	PageCount     uint32
	FirstFreePage uint32
	RootPage      uint32
	SchemaVersion uint32
}

// Magic identifies a valid database file (spec §3, §6.1).
const Magic = "DSQLv1\x00\x00"

const (
	dbhMagicOff         = 0
	dbhVersionOff       = 8
	dbhPageSizeOff      = 12
	dbhPageCountOff     = 16
	dbhFirstFreeOff     = 20
	dbhRootPageOff      = 24
	dbhSchemaVerOff     = 28
	dbhReservedOff      = 32
	dbhReservedLen      = 32
	// DatabaseHeaderSize is the on-disk size of the fixed portion of the
	// header page (spec §6.1): magic(8)+version(4)+page_size(4)+
	// page_count(4)+first_free_page(4)+root_page(4)+schema_version(4)+
	// reserved(32) = 64 bytes. The remainder of page 1 up to PageSize is
	// zero-filled padding.
	DatabaseHeaderSize = dbhReservedOff + dbhReservedLen

	// CurrentVersion is the only version this build understands.
	CurrentVersion uint32 = 1
)

// MarshalHeader writes h into a full page-sized buffer (the caller must
// size buf to the database's page size).
func MarshalHeader(h *DatabaseHeader, buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	copy(buf[dbhMagicOff:dbhMagicOff+8], Magic)
	binary.BigEndian.PutUint32(buf[dbhVersionOff:], h.Version)
	binary.BigEndian.PutUint32(buf[dbhPageSizeOff:], h.PageSize)
	binary.BigEndian.PutUint32(buf[dbhPageCountOff:], h.PageCount)
	binary.BigEndian.PutUint32(buf[dbhFirstFreeOff:], h.FirstFreePage)
	binary.BigEndian.PutUint32(buf[dbhRootPageOff:], h.RootPage)
	binary.BigEndian.PutUint32(buf[dbhSchemaVerOff:], h.SchemaVersion)
}

// UnmarshalHeader parses and validates page 1.
func UnmarshalHeader(buf []byte) (*DatabaseHeader, error) {
	if len(buf) < DatabaseHeaderSize {
		return nil, dsqlerr.E(dsqlerr.KindCorruption, "header page too short", nil)
	}
	if string(buf[dbhMagicOff:dbhMagicOff+8]) != Magic {
		return nil, dsqlerr.E(dsqlerr.KindCorruption, "bad magic", nil)
	}
	h := &DatabaseHeader{
		Version:       binary.BigEndian.Uint32(buf[dbhVersionOff:]),
		PageSize:      binary.BigEndian.Uint32(buf[dbhPageSizeOff:]),
		PageCount:     binary.BigEndian.Uint32(buf[dbhPageCountOff:]),
		FirstFreePage: binary.BigEndian.Uint32(buf[dbhFirstFreeOff:]),
		RootPage:      binary.BigEndian.Uint32(buf[dbhRootPageOff:]),
		SchemaVersion: binary.BigEndian.Uint32(buf[dbhSchemaVerOff:]),
	}
	if h.Version != CurrentVersion {
		return nil, dsqlerr.E(dsqlerr.KindCorruption, "unsupported version", nil)
	}
	if h.PageSize < MinPageSize || h.PageSize > MaxPageSize || h.PageSize&(h.PageSize-1) != 0 {
		return nil, dsqlerr.E(dsqlerr.KindCorruption, "invalid page size in header", nil)
	}
	return h, nil
}

// NewHeader builds the header for a freshly created database.
func NewHeader(pageSize uint32) *DatabaseHeader {
	return &DatabaseHeader{
		Version:       CurrentVersion,
		PageSize:      pageSize,
		PageCount:     1, // page 1 itself
		FirstFreePage: 0,
		RootPage:      0,
		SchemaVersion: 1,
	}
}
