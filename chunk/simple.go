package chunk

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dyu/riegeli/chain"
	"github.com/dyu/riegeli/compress"
	"github.com/dyu/riegeli/internal/base"
)

// SimpleEncoder lays out record sizes and payloads as two independently
// compressed streams.
type SimpleEncoder struct {
	base.Object
	opts             compress.Options
	sizesCompressor  *compress.Compressor
	valuesCompressor *compress.Compressor
	numRecords       uint64
}

// NewSimpleEncoder returns a SimpleEncoder using opts for both streams.
func NewSimpleEncoder(opts compress.Options) (*SimpleEncoder, error) {
	sc, err := compress.NewCompressor(opts)
	if err != nil {
		return nil, err
	}
	vc, err := compress.NewCompressor(opts)
	if err != nil {
		return nil, err
	}
	return &SimpleEncoder{opts: opts, sizesCompressor: sc, valuesCompressor: vc}, nil
}

// AddRecord appends one record.
func (e *SimpleEncoder) AddRecord(data []byte) error {
	if !e.Healthy() {
		return e.Err()
	}
	if e.numRecords == ^uint64(0) {
		return e.Fail(base.MarkOverflow(errors.New("riegeli: too many records in chunk")))
	}
	const maxRecordSize = 2 << 30
	if len(data) > maxRecordSize {
		return e.Fail(base.MarkOverflow(errors.New("riegeli: record exceeds 2 GiB")))
	}
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(data)))
	if !e.sizesCompressor.Write(lenBuf[:n]) {
		return e.FailFrom("riegeli: simple encoder sizes stream", &e.sizesCompressor.Object)
	}
	if !e.valuesCompressor.Write(data) {
		return e.FailFrom("riegeli: simple encoder values stream", &e.valuesCompressor.Object)
	}
	e.numRecords++
	return nil
}

// EncodeAndClose finalizes the chunk body into dst and returns the record
// count and decoded data size for the ChunkHeader.
func (e *SimpleEncoder) EncodeAndClose(dst io.Writer) (numRecords, decodedDataSize uint64, err error) {
	if !e.Healthy() {
		return 0, 0, e.Err()
	}
	if _, err := dst.Write([]byte{byte(Simple)}); err != nil {
		return 0, 0, e.Fail(errors.Wrapf(err, "riegeli: simple chunk type"))
	}
	if _, err := dst.Write([]byte{byte(compressionTag(e.opts.Type))}); err != nil {
		return 0, 0, e.Fail(errors.Wrapf(err, "riegeli: simple compression tag"))
	}

	var sizesBuf bytes.Buffer
	if err := e.sizesCompressor.EncodeAndClose(&sizesBuf); err != nil {
		return 0, 0, e.Fail(err)
	}
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(sizesBuf.Len()))
	if _, err := dst.Write(lenBuf[:n]); err != nil {
		return 0, 0, e.Fail(errors.Wrapf(err, "riegeli: sizes blob length"))
	}
	if _, err := dst.Write(sizesBuf.Bytes()); err != nil {
		return 0, 0, e.Fail(errors.Wrapf(err, "riegeli: sizes blob"))
	}

	decodedDataSize = uint64(e.valuesCompressor.Pos())
	if err := e.valuesCompressor.EncodeAndClose(dst); err != nil {
		return 0, 0, e.Fail(err)
	}

	numRecords = e.numRecords
	return numRecords, decodedDataSize, e.Close(func() error { return nil })
}

// compressionTag maps a compress.Type to the on-disk byte used in the
// Simple chunk body: 0=none, 'b'=brotli, 'z'=zstd.
func compressionTag(t compress.Type) byte {
	switch t {
	case compress.None:
		return 0
	case compress.Brotli:
		return 'b'
	case compress.Zstd:
		return 'z'
	default:
		return 0
	}
}

func compressionFromTag(tag byte) (compress.Type, error) {
	switch tag {
	case 0:
		return compress.None, nil
	case 'b':
		return compress.Brotli, nil
	case 'z':
		return compress.Zstd, nil
	default:
		return 0, base.MarkCorruption(errors.Newf("riegeli: unknown compression tag %#x", tag))
	}
}

// SimpleDecoder exposes decoded records by index, matching the contract
// shared with Transpose: a values blob plus cumulative limits. The values
// blob is copied into a Chain at parse time, and Record carves each record
// out with two Splits; a Split copies the bytes of any block it cuts
// through, so a Record call may copy up to the whole blob.
type SimpleDecoder struct {
	values *chain.Chain
	limits []uint64 // limits[i] is the end offset of record i; limits[-1] implicitly 0
}

// ParseSimple decodes a Simple chunk's body (everything after the
// chunk_type byte) given the chunk header's declared counts.
func ParseSimple(header Header, body []byte) (*SimpleDecoder, error) {
	if len(body) == 0 {
		return nil, base.MarkCorruption(errors.New("riegeli: simple chunk missing compression tag"))
	}
	compressionType, err := compressionFromTag(body[0])
	if err != nil {
		return nil, err
	}
	body = body[1:]

	sizesLen, n := binary.Uvarint(body)
	if n <= 0 || uint64(n)+sizesLen > uint64(len(body)) {
		return nil, base.MarkCorruption(errors.New("riegeli: simple chunk sizes-blob length corrupt"))
	}
	body = body[n:]
	sizesBlob := body[:sizesLen]
	valuesBlob := body[sizesLen:]

	sizesRaw, err := compress.Decompress(compressionType, sizesBlob)
	if err != nil {
		return nil, err
	}
	limits := make([]uint64, 0, header.NumRecords)
	var cum uint64
	rest := sizesRaw
	for uint64(len(limits)) < header.NumRecords {
		sz, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, base.MarkCorruption(errors.New("riegeli: simple chunk size varint corrupt"))
		}
		rest = rest[n:]
		cum += sz
		limits = append(limits, cum)
	}
	if len(rest) != 0 {
		return nil, base.MarkCorruption(errors.New("riegeli: simple chunk sizes trailing garbage"))
	}
	if uint64(len(limits)) > 0 && limits[len(limits)-1] != header.DecodedDataSize {
		return nil, base.MarkCorruption(errors.New("riegeli: simple chunk decoded_data_size mismatch"))
	}
	for i := 1; i < len(limits); i++ {
		if limits[i] < limits[i-1] {
			return nil, base.MarkCorruption(errors.New("riegeli: simple chunk record limits not sorted"))
		}
	}

	values, err := compress.Decompress(compressionType, valuesBlob)
	if err != nil {
		return nil, err
	}
	if uint64(len(values)) != header.DecodedDataSize {
		return nil, base.MarkCorruption(errors.New("riegeli: simple chunk values length mismatch"))
	}

	return &SimpleDecoder{values: chain.FromBytes(values), limits: limits}, nil
}

// NumRecords returns the number of records in the chunk.
func (d *SimpleDecoder) NumRecords() int {
	return len(d.limits)
}

// Record returns the i'th record's bytes, carved out of the values Chain
// by splitting at its start and end offsets.
func (d *SimpleDecoder) Record(i int) ([]byte, error) {
	if i < 0 || i >= len(d.limits) {
		return nil, errors.Newf("riegeli: record index %d out of range", i)
	}
	start := uint64(0)
	if i > 0 {
		start = d.limits[i-1]
	}
	head, _ := d.values.Split(int(d.limits[i]))
	_, record := head.Split(int(start))
	return record.Bytes(), nil
}
