package savestate

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/lunixbochs/struc"
)

// State files carry a fixed header followed by the core's opaque state
// blob, optionally zstd-compressed. The header records which core wrote
// the state so a blob is never fed to a different core's deserializer.

const (
	stateMagic   = 0x52415354 // "RAST"
	stateVersion = 1

	flagCompressed = 1 << 0
)

// ErrIncompatibleState is returned for state files written by a
// different core, a newer format version, or files that are not state
// files at all.
var ErrIncompatibleState = errors.New("incompatible save state")

type stateHeader struct {
	Magic   uint32
	Version uint8
	Flags   uint8
	CoreLen uint8 `struc:"uint8,sizeof=Core"`
	Core    string
	CRC32   uint32 // game fingerprint, checked on restore
	RawSize uint32 // uncompressed blob size
}

var (
	zstdEnc, _ = zstd.NewWriter(nil)
	zstdDec, _ = zstd.NewReader(nil)
)

// encodeState frames a raw state blob. Compression is kept only when it
// actually shrinks the blob; emulator states are usually highly
// compressible, but already-compressed cores' states are not.
func encodeState(coreName string, crc uint32, raw []byte) ([]byte, error) {
	if len(coreName) > 255 {
		coreName = coreName[:255]
	}
	hdr := stateHeader{
		Magic:   stateMagic,
		Version: stateVersion,
		Core:    coreName,
		CRC32:   crc,
		RawSize: uint32(len(raw)),
	}

	blob := zstdEnc.EncodeAll(raw, nil)
	if len(blob) < len(raw) {
		hdr.Flags |= flagCompressed
	} else {
		blob = raw
	}

	var buf bytes.Buffer
	if err := struc.Pack(&buf, &hdr); err != nil {
		return nil, fmt.Errorf("packing state header: %w", err)
	}
	buf.Write(blob)
	return buf.Bytes(), nil
}

// decodeState validates the frame and returns the raw blob. Both the
// core identity and the game fingerprint must match: a state from the
// right core but the wrong game is just as hostile to restore.
func decodeState(data []byte, coreName string, crc uint32) ([]byte, error) {
	r := bytes.NewReader(data)
	var hdr stateHeader
	if err := struc.Unpack(r, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleState, err)
	}
	if hdr.Magic != stateMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrIncompatibleState)
	}
	if hdr.Version != stateVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrIncompatibleState, hdr.Version)
	}
	if hdr.Core != coreName {
		return nil, fmt.Errorf("%w: state written by core %q", ErrIncompatibleState, hdr.Core)
	}
	if hdr.CRC32 != crc {
		return nil, fmt.Errorf("%w: state for game %08x, not %08x", ErrIncompatibleState, hdr.CRC32, crc)
	}

	blob := data[len(data)-r.Len():]
	var raw []byte
	if hdr.Flags&flagCompressed != 0 {
		var err error
		raw, err = zstdDec.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrIncompatibleState, err)
		}
	} else {
		raw = blob
	}

	if len(raw) != int(hdr.RawSize) {
		return nil, fmt.Errorf("%w: blob length %d, header says %d", ErrIncompatibleState, len(raw), hdr.RawSize)
	}
	return raw, nil
}
