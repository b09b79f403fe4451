// Package writer implements the writer (C15): serializing the
// laid-out image into an output buffer and committing it atomically
// (§4.9).
package writer

import (
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"hash"
	"math"
	"os"

	"github.com/google/renameio/v2"

	"github.com/go-eld/eldlink/config"
)

// MaxOutputSize bounds the output file size per §4.9: "Output size
// must not exceed INT64_MAX (32-bit: UINT32_MAX); else fatal."
func MaxOutputSize(is32Bit bool) uint64 {
	if is32Bit {
		return math.MaxUint32
	}
	return math.MaxInt64
}

// Section is the writer's view of one finished output section: bytes
// already relocated and ready to place at Offset within the file.
type Section struct {
	Name   string
	Offset uint64
	Addr   uint64
	Data   []byte // nil for SHT_NOBITS (BSS): contributes Size zero bytes
	Size   uint64
}

// Image is everything the writer needs to serialize: header bytes
// (produced by the caller's target-specific ELF-header encoder, out
// of this package's scope per the same "per-target" boundary as
// relocapply), section contents in file-offset order, and the raw
// section/program header bytes.
type Image struct {
	Header         []byte
	ProgramHeaders []byte
	Sections       []Section
	SectionHeaders []byte

	Is32Bit bool
}

// ErrTooLarge is returned when the serialized image would exceed
// MaxOutputSize.
type ErrTooLarge struct {
	Size, Limit uint64
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("output size %d exceeds the maximum of %d for this target", e.Size, e.Limit)
}

// Serialize lays out img's pieces into one contiguous buffer, in the
// §4.9 order: ELF header, program headers, section contents (in
// file-offset order), section headers. It does not append
// .shstrtab/.strtab/.symtab/.gnu.hash/.hash separately; the caller
// includes those as ordinary Sections, since from the writer's
// perspective they're just more file-offset-ordered bytes.
func Serialize(img Image) ([]byte, error) {
	total := uint64(len(img.Header) + len(img.ProgramHeaders))
	for _, s := range img.Sections {
		end := s.Offset + s.Size
		if end > total {
			total = end
		}
	}
	total += uint64(len(img.SectionHeaders))

	limit := MaxOutputSize(img.Is32Bit)
	if total > limit {
		return nil, &ErrTooLarge{Size: total, Limit: limit}
	}

	buf := make([]byte, total)
	copy(buf, img.Header)
	copy(buf[len(img.Header):], img.ProgramHeaders)
	for _, s := range img.Sections {
		if s.Data == nil {
			continue // SHT_NOBITS: reserve the range, write no bytes
		}
		copy(buf[s.Offset:], s.Data)
	}
	copy(buf[total-uint64(len(img.SectionHeaders)):], img.SectionHeaders)

	return buf, nil
}

// BuildIDNote locates the reserved .note.gnu.build-id note body within
// a serialized image. The ELF-header encoder that placed the note
// knows where it put it, so it supplies the offset and size here
// rather than this package rediscovering it by parsing headers back.
type BuildIDNote struct {
	Offset, Size uint64
}

// WriteBuildID computes the chosen build-id hash over buf excluding
// the build-id note's own body (so the hash doesn't depend on its own
// output), then writes the digest into buf at note.Offset (§4.9 step 7).
// "Fast" degrades to md5 and "Tree" degrades to sha1 over the whole
// image: a true per-section content-defined tree hash is a
// target/writer-collaborator concern this package leaves to whichever
// caller wants a stronger scheme.
func WriteBuildID(buf []byte, note BuildIDNote, kind config.BuildIDKind) error {
	if kind == config.BuildIDNone {
		return nil
	}
	if note.Offset+note.Size > uint64(len(buf)) {
		return fmt.Errorf("build-id note range [%d,%d) out of bounds of a %d-byte image", note.Offset, note.Offset+note.Size, len(buf))
	}

	var h hash.Hash
	switch kind {
	case config.BuildIDMD5, config.BuildIDFast:
		h = md5.New()
	case config.BuildIDSHA1, config.BuildIDTree:
		h = sha1.New()
	default:
		return fmt.Errorf("unknown build-id kind %v", kind)
	}

	h.Write(buf[:note.Offset])
	h.Write(buf[note.Offset+note.Size:])
	sum := h.Sum(nil)

	n := copy(buf[note.Offset:note.Offset+note.Size], sum)
	for i := n; i < int(note.Size); i++ {
		buf[note.Offset+uint64(i)] = 0
	}
	return nil
}

// Commit writes buf to path atomically: a temp file in the same
// directory, fsynced, then renamed over path, so a crash never leaves
// a partially-written output binary (§4.9 step 8).
func Commit(path string, buf []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, buf, perm)
}
