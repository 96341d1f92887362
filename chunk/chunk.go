// Package chunk implements the chunk layer: ChunkHeader encode/decode,
// the chunk type tag space, and the Simple and Transpose body codecs.
package chunk

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/dyu/riegeli/internal/base"
	"github.com/dyu/riegeli/internal/highway"
)

// Type is the one-byte tag at the start of a chunk's data.
type Type byte

const (
	FileSignature Type = 0x73
	FileMetadata  Type = 0x6D
	Padding       Type = 0x70
	Simple        Type = 0x72
	Transpose     Type = 0x74
)

// HeaderSize is the fixed on-disk size of a ChunkHeader.
const HeaderSize = 40

// Header is the 40-byte fixed preamble of every chunk.
type Header struct {
	DataSize        uint64
	DataHash        uint64
	NumRecords      uint64
	DecodedDataSize uint64
}

// Encode serializes h, appending its own header_hash as the trailing 8
// bytes.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.DataSize)
	binary.LittleEndian.PutUint64(buf[8:16], h.DataHash)
	binary.LittleEndian.PutUint64(buf[16:24], h.NumRecords)
	binary.LittleEndian.PutUint64(buf[24:32], h.DecodedDataSize)
	headerHash := highway.Hash64(buf[0:32])
	binary.LittleEndian.PutUint64(buf[32:40], headerHash)
	return buf
}

// DecodeHeader parses and validates a 40-byte ChunkHeader, verifying its
// header_hash.
func DecodeHeader(buf [HeaderSize]byte) (Header, error) {
	gotHash := highway.Hash64(buf[0:32])
	wantHash := binary.LittleEndian.Uint64(buf[32:40])
	if gotHash != wantHash {
		return Header{}, base.MarkCorruption(errors.New("riegeli: chunk header_hash mismatch"))
	}
	return Header{
		DataSize:        binary.LittleEndian.Uint64(buf[0:8]),
		DataHash:        binary.LittleEndian.Uint64(buf[8:16]),
		NumRecords:      binary.LittleEndian.Uint64(buf[16:24]),
		DecodedDataSize: binary.LittleEndian.Uint64(buf[24:32]),
	}, nil
}

// Decoder is the contract shared by SimpleDecoder and TransposeDecoder:
// an indexed table of records recovered from one chunk's body.
type Decoder interface {
	NumRecords() int
	Record(i int) ([]byte, error)
}

// VerifyData checks data's Highway hash against h.DataHash.
func (h Header) VerifyData(data []byte) error {
	if uint64(len(data)) != h.DataSize {
		return base.MarkCorruption(errors.Newf("riegeli: chunk data_size mismatch: header says %d, got %d", h.DataSize, len(data)))
	}
	if highway.Hash64(data) != h.DataHash {
		return base.MarkCorruption(errors.New("riegeli: chunk data hash mismatch"))
	}
	return nil
}
