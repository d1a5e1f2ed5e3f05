package romhash

import (
	"errors"
	"hash/crc32"
	"testing"
)

func TestComputeDeterministic(t *testing.T) {
	// 32KB image with varied content
	data := make([]byte, 32*1024)
	for i := range data {
		data[i] = byte(i*7 + i>>8)
	}

	first, err := Compute(data, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		fp, err := Compute(data, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fp != first {
			t.Fatalf("run %d: fingerprint changed: %+v vs %+v", i, fp, first)
		}
	}

	if first.CRC32 != crc32.ChecksumIEEE(data) {
		t.Error("CRC32 does not match direct checksum")
	}
	if first.Size != uint64(len(data)) {
		t.Errorf("size = %d, want %d", first.Size, len(data))
	}
}

func TestComputeSingleByteMutation(t *testing.T) {
	data := make([]byte, 32*1024)
	for i := range data {
		data[i] = byte(i)
	}

	orig, _ := Compute(data, nil)

	mutated := make([]byte, len(data))
	copy(mutated, data)
	mutated[12345] ^= 0x01

	fp, _ := Compute(mutated, nil)
	if fp.CRC32 == orig.CRC32 {
		t.Error("CRC32 unchanged after mutation")
	}
	if fp.MD5 == orig.MD5 {
		t.Error("MD5 unchanged after mutation")
	}
}

func TestSNESHasherCopierHeader(t *testing.T) {
	rom := make([]byte, 256*1024)
	for i := range rom {
		rom[i] = byte(i * 3)
	}

	// Same cartridge with a 512-byte copier header prepended
	headered := make([]byte, 512+len(rom))
	copy(headered[512:], rom)

	bare, err := Compute(rom, SNESHasher{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stripped, err := Compute(headered, SNESHasher{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if bare != stripped {
		t.Error("headered and bare SNES dumps should fingerprint identically")
	}
}

func TestNESHasher(t *testing.T) {
	prg := make([]byte, 16*1024)
	for i := range prg {
		prg[i] = byte(i)
	}

	plain := append([]byte("NES\x1a"), make([]byte, 12)...)
	plain = append(plain, prg...)

	withTrainer := append([]byte("NES\x1a"), make([]byte, 12)...)
	withTrainer[6] |= 0x04
	withTrainer = append(withTrainer, make([]byte, 512)...) // trainer
	withTrainer = append(withTrainer, prg...)

	a, err := Compute(plain, NESHasher{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Compute(withTrainer, NESHasher{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Error("trainer presence should not change the fingerprint")
	}

	if _, err := Compute([]byte("not a nes rom"), NESHasher{}); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage, got %v", err)
	}
}

func TestForExtension(t *testing.T) {
	tests := []struct {
		ext  string
		want Hasher
	}{
		{".sfc", SNESHasher{}},
		{"smc", SNESHasher{}},
		{".NES", NESHasher{}},
		{".md", nil},
		{".bin", nil},
		{"", nil},
	}

	for _, tc := range tests {
		t.Run(tc.ext, func(t *testing.T) {
			got := ForExtension(tc.ext)
			if got != tc.want {
				t.Errorf("ForExtension(%q) = %T, want %T", tc.ext, got, tc.want)
			}
		})
	}
}

func TestFingerprintHex(t *testing.T) {
	fp := Fingerprint{CRC32: 0xDEADBEEF}
	if fp.Hex() != "deadbeef" {
		t.Errorf("Hex() = %q", fp.Hex())
	}
	fp = Fingerprint{CRC32: 0xAB}
	if fp.Hex() != "000000ab" {
		t.Errorf("Hex() = %q, want zero-padded", fp.Hex())
	}
}
