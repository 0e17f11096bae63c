// Package cabarchive reads and writes Microsoft cabinet containers, the
// container format used for firmware archives. Reading supports the
// uncompressed and MSZIP folder types; writing always produces a single
// uncompressed folder with members in insertion order so that repacking
// the same inputs yields byte-identical output.
package cabarchive

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrNotSupported is returned for containers this codec cannot read,
	// such as multi-cabinet sets or unknown folder compression types.
	ErrNotSupported = errors.New("cabinet not supported")

	// ErrCorrupt is returned when the container structure is malformed.
	ErrCorrupt = errors.New("cabinet corrupt")
)

const (
	compressionNone  = 0x0000
	compressionMSZIP = 0x0001

	flagPrevCabinet = 0x0001
	flagNextCabinet = 0x0002
	flagReserve     = 0x0004

	// fixed DOS datestamp so that output is deterministic
	fileDate = 0x225a
	fileTime = 0x2000

	dataBlockMax = 0x8000
)

// File is a single named member of an archive.
type File struct {
	Name string
	Buf  []byte
}

// Archive is an ordered collection of named members.
type Archive struct {
	files []*File
	index map[string]int
}

// New returns an empty archive.
func New() *Archive {
	return &Archive{index: map[string]int{}}
}

// Add inserts or replaces a member. Replacing keeps the original position
// so member order stays stable across rewrites.
func (a *Archive) Add(f *File) {
	if i, ok := a.index[f.Name]; ok {
		a.files[i] = f
		return
	}
	a.index[f.Name] = len(a.files)
	a.files = append(a.files, f)
}

// Get returns the named member, or nil.
func (a *Archive) Get(name string) *File {
	if i, ok := a.index[name]; ok {
		return a.files[i]
	}
	return nil
}

// Remove deletes the named member if present.
func (a *Archive) Remove(name string) {
	i, ok := a.index[name]
	if !ok {
		return
	}
	a.files = append(a.files[:i], a.files[i+1:]...)
	delete(a.index, name)
	for j := i; j < len(a.files); j++ {
		a.index[a.files[j].Name] = j
	}
}

// Files returns the members in insertion order.
func (a *Archive) Files() []*File {
	return a.files
}

// Names returns the member names in insertion order.
func (a *Archive) Names() []string {
	names := make([]string, len(a.files))
	for i, f := range a.files {
		names[i] = f.Name
	}
	return names
}

// Find returns the members whose name matches the glob pattern.
func (a *Archive) Find(pattern string) []*File {
	var out []*File
	for _, f := range a.files {
		if ok, _ := path.Match(pattern, f.Name); ok {
			out = append(out, f)
		}
	}
	return out
}

// NormalizeName maps win32 separators to forward slashes.
func NormalizeName(name string) string {
	return strings.ReplaceAll(name, "\\", "/")
}

type header struct {
	cFolders  uint16
	cFiles    uint16
	flags     uint16
	coffFiles uint32
	cbFolder  uint8
	cbData    uint8
}

// Parse reads a cabinet from buf. With flatten set, member names are
// reduced to their basename; two members flattening to the same name must
// carry identical bytes.
func Parse(buf []byte, flatten bool) (*Archive, error) {
	r := bytes.NewReader(buf)
	hdr, err := parseHeader(r)
	if err != nil {
		return nil, err
	}

	type folder struct {
		coffData uint32
		nData    uint16
		compType uint16
	}
	folders := make([]folder, hdr.cFolders)
	for i := range folders {
		var raw struct {
			CoffCabStart uint32
			CCFData      uint16
			TypeCompress uint16
		}
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, fmt.Errorf("%w: folder %d: %v", ErrCorrupt, i, err)
		}
		if hdr.cbFolder > 0 {
			if _, err := r.Seek(int64(hdr.cbFolder), io.SeekCurrent); err != nil {
				return nil, ErrCorrupt
			}
		}
		folders[i] = folder{raw.CoffCabStart, raw.CCFData, raw.TypeCompress & 0x000f}
	}

	if _, err := r.Seek(int64(hdr.coffFiles), io.SeekStart); err != nil {
		return nil, ErrCorrupt
	}
	type entry struct {
		name    string
		size    uint32
		offset  uint32
		iFolder uint16
	}
	entries := make([]entry, hdr.cFiles)
	for i := range entries {
		var raw struct {
			CbFile          uint32
			UoffFolderStart uint32
			IFolder         uint16
			Date            uint16
			Time            uint16
			Attribs         uint16
		}
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, fmt.Errorf("%w: file %d: %v", ErrCorrupt, i, err)
		}
		name, err := readCString(r)
		if err != nil {
			return nil, ErrCorrupt
		}
		if int(raw.IFolder) >= len(folders) {
			return nil, fmt.Errorf("%w: file %q references folder %d", ErrCorrupt, name, raw.IFolder)
		}
		entries[i] = entry{name, raw.CbFile, raw.UoffFolderStart, raw.IFolder}
	}

	// decompress each folder's data stream once
	streams := make([][]byte, len(folders))
	for i, fo := range folders {
		data, err := readFolderData(buf, fo.coffData, fo.nData, fo.compType, hdr.cbData)
		if err != nil {
			return nil, err
		}
		streams[i] = data
	}

	arc := New()
	for _, e := range entries {
		stream := streams[e.iFolder]
		if int64(e.offset)+int64(e.size) > int64(len(stream)) {
			return nil, fmt.Errorf("%w: file %q extends past folder data", ErrCorrupt, e.name)
		}
		name := NormalizeName(e.name)
		if flatten {
			name = path.Base(name)
		}
		data := stream[e.offset : e.offset+e.size]
		if prev := arc.Get(name); prev != nil {
			if !bytes.Equal(prev.Buf, data) {
				return nil, fmt.Errorf("%w: duplicate member %q with differing contents", ErrCorrupt, name)
			}
			continue
		}
		arc.Add(&File{Name: name, Buf: data})
	}
	return arc, nil
}

func parseHeader(r *bytes.Reader) (*header, error) {
	var raw struct {
		Signature    [4]byte
		Reserved1    uint32
		CbCabinet    uint32
		Reserved2    uint32
		CoffFiles    uint32
		Reserved3    uint32
		VersionMinor uint8
		VersionMajor uint8
		CFolders     uint16
		CFiles       uint16
		Flags        uint16
		SetID        uint16
		ICabinet     uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	if string(raw.Signature[:]) != "MSCF" {
		return nil, fmt.Errorf("%w: bad signature", ErrNotSupported)
	}
	if raw.Flags&(flagPrevCabinet|flagNextCabinet) != 0 {
		return nil, fmt.Errorf("%w: multi-cabinet sets", ErrNotSupported)
	}
	hdr := &header{
		cFolders:  raw.CFolders,
		cFiles:    raw.CFiles,
		flags:     raw.Flags,
		coffFiles: raw.CoffFiles,
	}
	if raw.Flags&flagReserve != 0 {
		var reserve struct {
			CbCFHeader uint16
			CbCFFolder uint8
			CbCFData   uint8
		}
		if err := binary.Read(r, binary.LittleEndian, &reserve); err != nil {
			return nil, ErrCorrupt
		}
		if _, err := r.Seek(int64(reserve.CbCFHeader), io.SeekCurrent); err != nil {
			return nil, ErrCorrupt
		}
		hdr.cbFolder = reserve.CbCFFolder
		hdr.cbData = reserve.CbCFData
	}
	return hdr, nil
}

func readFolderData(buf []byte, off uint32, nBlocks uint16, compType uint16, reserve uint8) ([]byte, error) {
	if compType != compressionNone && compType != compressionMSZIP {
		return nil, fmt.Errorf("%w: folder compression type 0x%04x", ErrNotSupported, compType)
	}
	var out []byte
	pos := int64(off)
	for i := uint16(0); i < nBlocks; i++ {
		if pos+8 > int64(len(buf)) {
			return nil, fmt.Errorf("%w: truncated data block", ErrCorrupt)
		}
		cbData := binary.LittleEndian.Uint16(buf[pos+4:])
		cbUncomp := binary.LittleEndian.Uint16(buf[pos+6:])
		pos += 8 + int64(reserve)
		if pos+int64(cbData) > int64(len(buf)) {
			return nil, fmt.Errorf("%w: truncated data block", ErrCorrupt)
		}
		block := buf[pos : pos+int64(cbData)]
		pos += int64(cbData)

		switch compType {
		case compressionNone:
			out = append(out, block...)
		case compressionMSZIP:
			if len(block) < 2 || block[0] != 'C' || block[1] != 'K' {
				return nil, fmt.Errorf("%w: bad MSZIP block signature", ErrCorrupt)
			}
			// the deflate dictionary carries over from the previous block
			dict := out
			if len(dict) > 32768 {
				dict = dict[len(dict)-32768:]
			}
			fr := flate.NewReaderDict(bytes.NewReader(block[2:]), dict)
			dec, err := io.ReadAll(fr)
			fr.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: MSZIP block %d: %v", ErrCorrupt, i, err)
			}
			if len(dec) != int(cbUncomp) {
				return nil, fmt.Errorf("%w: MSZIP block %d: got %d bytes, want %d", ErrCorrupt, i, len(dec), cbUncomp)
			}
			out = append(out, dec...)
		}
	}
	return out, nil
}

func readCString(r *bytes.Reader) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}

// Save serializes the archive as a single uncompressed folder.
func (a *Archive) Save() ([]byte, error) {
	const headerSize = 36
	const folderSize = 8

	filesSize := 0
	streamSize := 0
	for _, f := range a.files {
		if strings.ContainsRune(f.Name, 0) {
			return nil, fmt.Errorf("invalid member name %q", f.Name)
		}
		filesSize += 16 + len(f.Name) + 1
		streamSize += len(f.Buf)
	}
	nBlocks := (streamSize + dataBlockMax - 1) / dataBlockMax
	if streamSize == 0 {
		nBlocks = 0
	}
	coffFiles := uint32(headerSize + folderSize)
	coffData := coffFiles + uint32(filesSize)
	cbCabinet := coffData + uint32(nBlocks*8+streamSize)

	var w bytes.Buffer
	w.WriteString("MSCF")
	writeLE(&w, uint32(0))
	writeLE(&w, cbCabinet)
	writeLE(&w, uint32(0))
	writeLE(&w, coffFiles)
	writeLE(&w, uint32(0))
	w.WriteByte(3) // version 1.3
	w.WriteByte(1)
	writeLE(&w, uint16(1))
	writeLE(&w, uint16(len(a.files)))
	writeLE(&w, uint16(0)) // flags
	writeLE(&w, uint16(0)) // setID
	writeLE(&w, uint16(0)) // iCabinet

	writeLE(&w, coffData)
	writeLE(&w, uint16(nBlocks))
	writeLE(&w, uint16(compressionNone))

	offset := uint32(0)
	for _, f := range a.files {
		writeLE(&w, uint32(len(f.Buf)))
		writeLE(&w, offset)
		writeLE(&w, uint16(0)) // folder index
		writeLE(&w, uint16(fileDate))
		writeLE(&w, uint16(fileTime))
		writeLE(&w, uint16(0x20)) // archive attribute
		w.WriteString(f.Name)
		w.WriteByte(0)
		offset += uint32(len(f.Buf))
	}

	var stream bytes.Buffer
	for _, f := range a.files {
		stream.Write(f.Buf)
	}
	data := stream.Bytes()
	for len(data) > 0 {
		n := len(data)
		if n > dataBlockMax {
			n = dataBlockMax
		}
		writeLE(&w, uint32(0)) // checksum not computed
		writeLE(&w, uint16(n))
		writeLE(&w, uint16(n))
		w.Write(data[:n])
		data = data[n:]
	}
	return w.Bytes(), nil
}

func writeLE(w *bytes.Buffer, v interface{}) {
	binary.Write(w, binary.LittleEndian, v)
}
