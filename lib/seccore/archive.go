// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/seclink/lib/codec"
)

// Archive file layout:
//
//	[magic "SLAR"] [manifest length: uint32 LE] [manifest: CBOR] [entry data]
//
// Entry offsets in the manifest are relative to the start of the entry
// data.
var archiveMagic = [4]byte{'S', 'L', 'A', 'R'}

const archiveVersion = 1

// ErrArchiveCorrupt reports an archive that fails structural or digest
// checks.
var ErrArchiveCorrupt = errors.New("seccore: archive corrupt")

// DigestSize is the size of a builtin measurement.
const DigestSize = 32

type manifest struct {
	Version int             `cbor:"1,keyasint"`
	Entries []manifestEntry `cbor:"2,keyasint"`
}

type manifestEntry struct {
	Name        string      `cbor:"1,keyasint"`
	Compression Compression `cbor:"2,keyasint"`
	Size        uint64      `cbor:"3,keyasint"`
	Offset      uint64      `cbor:"4,keyasint"`
	Length      uint64      `cbor:"5,keyasint"`
	Digest      []byte      `cbor:"6,keyasint"`
}

// Archive is a read-only set of named builtin files. File ids are
// 1-based manifest positions.
type Archive struct {
	entries []manifestEntry
	index   map[string]uint32
	data    []byte

	mu       sync.Mutex
	contents map[uint32][]byte
}

// ParseArchive parses an archive image. Entry data is decompressed and
// verified on first use.
func ParseArchive(image []byte) (*Archive, error) {
	if len(image) < 8 || !bytes.Equal(image[:4], archiveMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrArchiveCorrupt)
	}
	manifestLength := binary.LittleEndian.Uint32(image[4:8])
	if uint64(manifestLength) > uint64(len(image)-8) {
		return nil, fmt.Errorf("%w: manifest length %d exceeds image", ErrArchiveCorrupt, manifestLength)
	}
	var parsed manifest
	if err := codec.UnmarshalStrict(image[8:8+manifestLength], &parsed); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrArchiveCorrupt, err)
	}
	if parsed.Version != archiveVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrArchiveCorrupt, parsed.Version)
	}

	archive := &Archive{
		entries:  parsed.Entries,
		index:    make(map[string]uint32, len(parsed.Entries)),
		data:     image[8+manifestLength:],
		contents: make(map[uint32][]byte),
	}
	for position, entry := range parsed.Entries {
		if entry.Offset+entry.Length > uint64(len(archive.data)) || entry.Offset+entry.Length < entry.Offset {
			return nil, fmt.Errorf("%w: entry %q extends past end of data", ErrArchiveCorrupt, entry.Name)
		}
		if entry.Size > math.MaxUint32 {
			return nil, fmt.Errorf("%w: entry %q is %d bytes", ErrArchiveCorrupt, entry.Name, entry.Size)
		}
		if len(entry.Digest) != DigestSize {
			return nil, fmt.Errorf("%w: entry %q digest is %d bytes", ErrArchiveCorrupt, entry.Name, len(entry.Digest))
		}
		if _, duplicate := archive.index[entry.Name]; duplicate {
			return nil, fmt.Errorf("%w: duplicate entry %q", ErrArchiveCorrupt, entry.Name)
		}
		archive.index[entry.Name] = uint32(position + 1)
	}
	return archive, nil
}

// LoadArchive reads and parses the archive at path.
func LoadArchive(path string) (*Archive, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	archive, err := ParseArchive(image)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return archive, nil
}

// Names returns the entry names in archive order.
func (a *Archive) Names() []string {
	names := make([]string, len(a.entries))
	for position, entry := range a.entries {
		names[position] = entry.Name
	}
	return names
}

// Lookup returns the file id and uncompressed size of name.
func (a *Archive) Lookup(name string) (fid uint32, size uint32, ok bool) {
	fid, ok = a.index[name]
	if !ok {
		return 0, 0, false
	}
	return fid, uint32(a.entries[fid-1].Size), true
}

// Contents returns the uncompressed bytes of file fid. The returned
// slice is shared and must not be modified.
func (a *Archive) Contents(fid uint32) ([]byte, bool, error) {
	if fid == 0 || int(fid) > len(a.entries) {
		return nil, false, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if cached, ok := a.contents[fid]; ok {
		return cached, true, nil
	}

	entry := a.entries[fid-1]
	stored := a.data[entry.Offset : entry.Offset+entry.Length]
	plain, err := decompress(stored, entry.Compression, int(entry.Size))
	if err != nil {
		return nil, true, fmt.Errorf("%w: entry %q: %v", ErrArchiveCorrupt, entry.Name, err)
	}
	digest := blake3.Sum256(plain)
	if !bytes.Equal(digest[:], entry.Digest) {
		return nil, true, fmt.Errorf("%w: entry %q digest mismatch", ErrArchiveCorrupt, entry.Name)
	}
	a.contents[fid] = plain
	return plain, true, nil
}

// Measurement returns the size and BLAKE3-256 digest of name's
// uncompressed contents, as recorded in the manifest and verified
// against the data.
func (a *Archive) Measurement(name string) (Measurement, bool, error) {
	fid, ok := a.index[name]
	if !ok {
		return Measurement{}, false, nil
	}
	if _, _, err := a.Contents(fid); err != nil {
		return Measurement{}, true, err
	}
	entry := a.entries[fid-1]
	measurement := Measurement{Size: entry.Size}
	copy(measurement.Digest[:], entry.Digest)
	return measurement, true, nil
}

// Measurement identifies a builtin's contents.
type Measurement struct {
	Size   uint64
	Digest [DigestSize]byte
}

// ArchiveBuilder assembles an archive image.
type ArchiveBuilder struct {
	entries []manifestEntry
	data    bytes.Buffer
	names   map[string]bool
}

// Add appends a file. If compression would not shrink data it is
// stored uncompressed.
func (b *ArchiveBuilder) Add(name string, contents []byte, compression Compression) error {
	if name == "" {
		return fmt.Errorf("archive entry name is empty")
	}
	if b.names == nil {
		b.names = make(map[string]bool)
	}
	if b.names[name] {
		return fmt.Errorf("duplicate archive entry %q", name)
	}
	if uint64(len(contents)) > math.MaxUint32 {
		return fmt.Errorf("archive entry %q is %d bytes", name, len(contents))
	}

	stored, err := compress(contents, compression)
	if errors.Is(err, errIncompressible) {
		stored, compression = contents, CompressionNone
	} else if err != nil {
		return fmt.Errorf("compressing %q: %w", name, err)
	}

	digest := blake3.Sum256(contents)
	b.entries = append(b.entries, manifestEntry{
		Name:        name,
		Compression: compression,
		Size:        uint64(len(contents)),
		Offset:      uint64(b.data.Len()),
		Length:      uint64(len(stored)),
		Digest:      digest[:],
	})
	b.data.Write(stored)
	b.names[name] = true
	return nil
}

// Bytes returns the archive image.
func (b *ArchiveBuilder) Bytes() ([]byte, error) {
	encoded, err := codec.Marshal(manifest{Version: archiveVersion, Entries: b.entries})
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	image := make([]byte, 0, 8+len(encoded)+b.data.Len())
	image = append(image, archiveMagic[:]...)
	image = binary.LittleEndian.AppendUint32(image, uint32(len(encoded)))
	image = append(image, encoded...)
	return append(image, b.data.Bytes()...), nil
}

// Archive parses the builder's image.
func (b *ArchiveBuilder) Archive() (*Archive, error) {
	image, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return ParseArchive(image)
}
