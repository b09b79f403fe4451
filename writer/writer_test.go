package writer

import (
	"bytes"
	"crypto/md5"
	"testing"

	"github.com/go-eld/eldlink/config"
)

func TestSerializeOrdersPieces(t *testing.T) {
	img := Image{
		Header:         []byte{0xEF, 'E', 'L', 'F'},
		ProgramHeaders: []byte{1, 1, 1, 1},
		Sections: []Section{
			{Name: ".text", Offset: 8, Data: []byte{0xAA, 0xBB}, Size: 2},
			{Name: ".bss", Offset: 10, Data: nil, Size: 4},
		},
		SectionHeaders: []byte{0xFF, 0xFF},
	}
	buf, err := Serialize(img)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0xEF, 'E', 'L', 'F', 1, 1, 1, 1, 0xAA, 0xBB, 0, 0, 0, 0, 0xFF, 0xFF}
	if !bytes.Equal(buf, want) {
		t.Errorf("want %v, got %v", want, buf)
	}
}

func TestSerializeTooLarge(t *testing.T) {
	img := Image{
		Header:  make([]byte, 16),
		Is32Bit: true,
	}
	img.Sections = []Section{{Offset: 0, Size: MaxOutputSize(true) + 1}}
	_, err := Serialize(img)
	if err == nil {
		t.Fatal("want ErrTooLarge")
	}
	if _, ok := err.(*ErrTooLarge); !ok {
		t.Errorf("want *ErrTooLarge, got %T", err)
	}
}

func TestMaxOutputSizeByWordSize(t *testing.T) {
	if MaxOutputSize(true) != 0xFFFFFFFF {
		t.Errorf("want 32-bit max of UINT32_MAX, got %#x", MaxOutputSize(true))
	}
	if MaxOutputSize(false) == 0 || MaxOutputSize(false) <= MaxOutputSize(true) {
		t.Errorf("want 64-bit max to exceed 32-bit max, got %#x", MaxOutputSize(false))
	}
}

func TestWriteBuildIDExcludesNoteBody(t *testing.T) {
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = byte(i)
	}
	note := BuildIDNote{Offset: 16, Size: 16}

	before := make([]byte, 32)
	copy(before, buf)

	if err := WriteBuildID(buf, note, config.BuildIDMD5); err != nil {
		t.Fatal(err)
	}

	h := md5.New()
	h.Write(before[:16])
	h.Write(before[32:]) // empty: note runs to the end in this test
	sum := h.Sum(nil)

	if !bytes.Equal(buf[16:32], sum) {
		t.Errorf("note body = %x, want digest %x", buf[16:32], sum)
	}
	if !bytes.Equal(buf[:16], before[:16]) {
		t.Error("WriteBuildID must not touch bytes outside the note")
	}
}

func TestWriteBuildIDNoneIsNoop(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	orig := append([]byte(nil), buf...)
	if err := WriteBuildID(buf, BuildIDNote{Offset: 0, Size: 4}, config.BuildIDNone); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, orig) {
		t.Error("BuildIDNone must leave buf untouched")
	}
}

func TestWriteBuildIDOutOfRange(t *testing.T) {
	buf := make([]byte, 8)
	err := WriteBuildID(buf, BuildIDNote{Offset: 4, Size: 8}, config.BuildIDMD5)
	if err == nil {
		t.Fatal("want error for out-of-bounds note range")
	}
}

func TestWriteBuildIDUnknownKind(t *testing.T) {
	buf := make([]byte, 8)
	err := WriteBuildID(buf, BuildIDNote{Offset: 0, Size: 4}, config.BuildIDKind(99))
	if err == nil {
		t.Fatal("want error for unknown build-id kind")
	}
}
