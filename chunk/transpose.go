package chunk

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dyu/riegeli/bytesio"
	"github.com/dyu/riegeli/compress"
	"github.com/dyu/riegeli/internal/base"
)

// FieldFilter restricts Transpose decoding to a set of protobuf field
// paths; a nil *FieldFilter means everything is required.
type FieldFilter struct {
	Paths [][]uint32
}

func isPrefix(prefix, path []uint32) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, v := range prefix {
		if path[i] != v {
			return false
		}
	}
	return true
}

func (f *FieldFilter) required(path []uint32) bool {
	if f == nil {
		return true
	}
	for _, p := range f.Paths {
		if isPrefix(p, path) {
			return true
		}
	}
	return false
}

func (f *FieldFilter) mayContain(path []uint32) bool {
	if f == nil {
		return true
	}
	for _, p := range f.Paths {
		if isPrefix(path, p) || isPrefix(p, path) {
			return true
		}
	}
	return false
}

type nodeKind byte

const (
	kindValue nodeKind = iota
	kindStartSub
	kindEndSub
	kindOpaqueRecord
)

type node struct {
	kind      nodeKind
	tag       uint32
	wireType  uint32
	bufferKey int32
	next      int32 // index of successor node, or -1 at end of record
}

type nodeKey struct {
	kind      nodeKind
	tag       uint32
	wireType  uint32
	bufferKey int32
	next      int32
}

type token struct {
	kind      nodeKind
	tag       uint32
	wireType  uint32
	bufferKey int
}

// wireItem is the parsed form of one top-level protobuf field, produced by
// parseWire without mutating any encoder state.
type wireItem struct {
	tag      uint32
	wireType uint32
	raw      []byte // scalar bytes, or opaque length-delimited payload
	sub      []wireItem
	isSub    bool
}

const maxTransposeDepth = 48

// parseWire scans data as a sequence of protobuf wire-format fields.
// Length-delimited fields that themselves parse as well-formed messages are
// recursed into; this only affects how well buffers dedupe, never
// correctness, since decode replays whatever choice the encoder made.
// Decode rebuilds tags and length prefixes in canonical varint form, so a
// tag or length that is not canonically encoded (or a field number that
// does not fit 32 bits) makes the data unparseable here, and the record is
// then stored opaque.
func parseWire(data []byte, depth int) ([]wireItem, bool) {
	if depth > maxTransposeDepth {
		return nil, false
	}
	var items []wireItem
	var tmp [binary.MaxVarintLen64]byte
	for len(data) > 0 {
		tagAndType, n := binary.Uvarint(data)
		if n <= 0 || binary.PutUvarint(tmp[:], tagAndType) != n {
			return nil, false
		}
		data = data[n:]
		wireType := uint32(tagAndType & 7)
		fieldNum := uint32(tagAndType >> 3)
		if fieldNum == 0 || uint64(fieldNum) != tagAndType>>3 {
			return nil, false
		}
		switch wireType {
		case 0:
			_, vn := binary.Uvarint(data)
			if vn <= 0 {
				return nil, false
			}
			items = append(items, wireItem{tag: fieldNum, wireType: 0, raw: data[:vn]})
			data = data[vn:]
		case 1:
			if len(data) < 8 {
				return nil, false
			}
			items = append(items, wireItem{tag: fieldNum, wireType: 1, raw: data[:8]})
			data = data[8:]
		case 5:
			if len(data) < 4 {
				return nil, false
			}
			items = append(items, wireItem{tag: fieldNum, wireType: 5, raw: data[:4]})
			data = data[4:]
		case 2:
			length, ln := binary.Uvarint(data)
			if ln <= 0 || binary.PutUvarint(tmp[:], length) != ln || length > uint64(len(data)-ln) {
				return nil, false
			}
			data = data[ln:]
			payload := data[:length]
			data = data[length:]
			if sub, ok := parseWire(payload, depth+1); ok && len(sub) > 0 {
				items = append(items, wireItem{tag: fieldNum, wireType: 2, isSub: true, sub: sub})
			} else {
				items = append(items, wireItem{tag: fieldNum, wireType: 2, raw: payload})
			}
		default:
			return nil, false
		}
	}
	return items, true
}

// TransposeEncoder column-shreds protobuf records by tag into per-field
// buffers and builds a suffix-sharing state machine describing how to
// replay each record.
type TransposeEncoder struct {
	base.Object
	opts        compress.Options
	buffers     [][]byte
	bufferIndex map[uint64]int
	nodes       []node
	nodeIndex   map[nodeKey]int32
	heads       []int32
	numRecords  uint64
}

// NewTransposeEncoder returns a TransposeEncoder that compresses each
// buffer with opts.
func NewTransposeEncoder(opts compress.Options) *TransposeEncoder {
	return &TransposeEncoder{
		opts:        opts,
		bufferIndex: make(map[uint64]int),
		nodeIndex:   make(map[nodeKey]int32),
	}
}

func (e *TransposeEncoder) bufferFor(tag, wireType uint32) int {
	key := uint64(tag)<<3 | uint64(wireType)
	if idx, ok := e.bufferIndex[key]; ok {
		return idx
	}
	idx := len(e.buffers)
	e.buffers = append(e.buffers, nil)
	e.bufferIndex[key] = idx
	return idx
}

// opaqueBuffer is reserved for whole records that don't parse as
// well-formed protobuf; tag 0 can't occur in real wire data.
func (e *TransposeEncoder) opaqueBuffer() int {
	return e.bufferFor(0, 7)
}

func (e *TransposeEncoder) emit(items []wireItem) []token {
	toks := make([]token, 0, len(items))
	for _, it := range items {
		if it.isSub {
			toks = append(toks, token{kind: kindStartSub, tag: it.tag})
			toks = append(toks, e.emit(it.sub)...)
			toks = append(toks, token{kind: kindEndSub})
			continue
		}
		bk := e.bufferFor(it.tag, it.wireType)
		if it.wireType == 2 {
			var lenBuf [binary.MaxVarintLen64]byte
			n := binary.PutUvarint(lenBuf[:], uint64(len(it.raw)))
			e.buffers[bk] = append(e.buffers[bk], lenBuf[:n]...)
		}
		e.buffers[bk] = append(e.buffers[bk], it.raw...)
		toks = append(toks, token{kind: kindValue, tag: it.tag, wireType: it.wireType, bufferKey: bk})
	}
	return toks
}

// internChain folds toks right-to-left, interning nodes by
// (kind, tag, wireType, bufferKey, next) so that records sharing a common
// tail automatically share nodes; since next must already exist (or be the
// -1 sentinel), the resulting graph is a DAG by construction.
func (e *TransposeEncoder) internChain(toks []token) int32 {
	next := int32(-1)
	for i := len(toks) - 1; i >= 0; i-- {
		t := toks[i]
		key := nodeKey{kind: t.kind, tag: t.tag, wireType: t.wireType, bufferKey: int32(t.bufferKey), next: next}
		idx, ok := e.nodeIndex[key]
		if !ok {
			idx = int32(len(e.nodes))
			e.nodes = append(e.nodes, node{kind: t.kind, tag: t.tag, wireType: t.wireType, bufferKey: int32(t.bufferKey), next: next})
			e.nodeIndex[key] = idx
		}
		next = idx
	}
	return next
}

// AddRecord appends one record. Records that don't parse as well-formed
// protobuf are stored whole in a dedicated buffer rather than rejected,
// since riegeli records are opaque byte strings in general.
func (e *TransposeEncoder) AddRecord(data []byte) error {
	if !e.Healthy() {
		return e.Err()
	}
	var head int32
	if items, ok := parseWire(data, 0); ok {
		head = e.internChain(e.emit(items))
	} else {
		bk := e.opaqueBuffer()
		var lenBuf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(lenBuf[:], uint64(len(data)))
		e.buffers[bk] = append(e.buffers[bk], lenBuf[:n]...)
		e.buffers[bk] = append(e.buffers[bk], data...)
		head = e.internChain([]token{{kind: kindOpaqueRecord, bufferKey: bk}})
	}
	e.heads = append(e.heads, head)
	e.numRecords++
	return nil
}

func putNext(dst *bytes.Buffer, next int32) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(next+1))
	dst.Write(buf[:n])
}

// EncodeAndClose serializes the state machine header followed by one
// independently compressed bucket per buffer. Bucket grouping here is
// one-buffer-per-bucket: a valid but simple choice, since the grouping
// heuristic is a compression-ratio tradeoff, not a format invariant.
func (e *TransposeEncoder) EncodeAndClose(out io.Writer) (numRecords, decodedDataSize uint64, err error) {
	if !e.Healthy() {
		return 0, 0, e.Err()
	}
	var dst bytes.Buffer
	dst.WriteByte(byte(Transpose))

	var varintBuf [binary.MaxVarintLen64]byte
	putUvarint := func(v uint64) {
		n := binary.PutUvarint(varintBuf[:], v)
		dst.Write(varintBuf[:n])
	}

	putUvarint(uint64(len(e.nodes)))
	for _, n := range e.nodes {
		dst.WriteByte(byte(n.kind))
		putUvarint(uint64(n.tag))
		putUvarint(uint64(n.wireType))
		putUvarint(uint64(n.bufferKey))
		putNext(&dst, n.next)
	}
	for _, h := range e.heads {
		putNext(&dst, h)
	}

	putUvarint(uint64(len(e.buffers)))
	decodedDataSize = 0
	for _, buf := range e.buffers {
		decodedDataSize += uint64(len(buf))
		c, cerr := compress.NewCompressor(e.opts)
		if cerr != nil {
			return 0, 0, e.Fail(cerr)
		}
		if !c.Write(buf) {
			return 0, 0, e.Fail(c.Err())
		}
		var blob bytes.Buffer
		if err := c.EncodeAndClose(&blob); err != nil {
			return 0, 0, e.Fail(err)
		}
		dst.WriteByte(compressionTag(e.opts.Type))
		putUvarint(uint64(blob.Len()))
		dst.Write(blob.Bytes())
	}

	if _, err := out.Write(dst.Bytes()); err != nil {
		return 0, 0, e.Fail(errors.Wrapf(err, "riegeli: transpose chunk output"))
	}

	numRecords = e.numRecords
	return numRecords, decodedDataSize, e.Close(func() error { return nil })
}

// TransposeDecoder exposes decoded records by index. Records are replayed
// eagerly at parse time, giving the same NumRecords/Record contract as
// SimpleDecoder, but each buffer's bucket is decompressed lazily: a bucket
// is inflated only the first time some record's node chain actually needs
// to pop a byte from it, so a FieldFilter that never requires a field never
// pays for decompressing that field's bucket.
type TransposeDecoder struct {
	records              [][]byte
	bucketDecompressions int
}

// BucketDecompressions returns the number of buckets actually decompressed
// while decoding. With a FieldFilter in effect, this is at most the number
// of buckets holding at least one required field, never the total bucket
// count.
func (d *TransposeDecoder) BucketDecompressions() int {
	return d.bucketDecompressions
}

// lazyBucket holds one buffer's compressed bytes until something actually
// needs its contents.
type lazyBucket struct {
	compressionType compress.Type
	blob            []byte
	decoded         []byte
	ready           bool
}

func (b *lazyBucket) bytes(counter *int) ([]byte, error) {
	if !b.ready {
		raw, err := compress.Decompress(b.compressionType, b.blob)
		if err != nil {
			return nil, err
		}
		b.decoded = raw
		b.ready = true
		*counter++
	}
	return b.decoded, nil
}

func getNext(buf []byte) (int32, int, bool) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0, false
	}
	return int32(v) - 1, n, true
}

// ParseTranspose decodes a Transpose chunk body (everything after the
// chunk_type byte) into numRecords records, dropping fields not selected
// by filter when filter is non-nil.
func ParseTranspose(header Header, body []byte, filter *FieldFilter) (*TransposeDecoder, error) {
	numNodes, n := binary.Uvarint(body)
	if n <= 0 {
		return nil, base.MarkCorruption(errors.New("riegeli: transpose node count corrupt"))
	}
	body = body[n:]

	nodes := make([]node, numNodes)
	for i := range nodes {
		if len(body) == 0 {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose node table truncated"))
		}
		kind := nodeKind(body[0])
		body = body[1:]
		tag, n1 := binary.Uvarint(body)
		if n1 <= 0 {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose node tag corrupt"))
		}
		body = body[n1:]
		wireType, n2 := binary.Uvarint(body)
		if n2 <= 0 {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose node wire type corrupt"))
		}
		body = body[n2:]
		bufferKey, n3 := binary.Uvarint(body)
		if n3 <= 0 {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose node buffer key corrupt"))
		}
		body = body[n3:]
		next, n4, ok := getNext(body)
		if !ok {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose node next corrupt"))
		}
		body = body[n4:]
		if next >= int32(numNodes) {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose node next out of range"))
		}
		nodes[i] = node{kind: kind, tag: uint32(tag), wireType: uint32(wireType), bufferKey: int32(bufferKey), next: next}
	}

	heads := make([]int32, header.NumRecords)
	for i := range heads {
		h, hn, ok := getNext(body)
		if !ok {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose record head corrupt"))
		}
		body = body[hn:]
		if h >= int32(numNodes) {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose record head out of range"))
		}
		heads[i] = h
	}

	numBuffers, n5 := binary.Uvarint(body)
	if n5 <= 0 {
		return nil, base.MarkCorruption(errors.New("riegeli: transpose buffer count corrupt"))
	}
	body = body[n5:]

	buckets := make([]*lazyBucket, numBuffers)
	for i := range buckets {
		if len(body) == 0 {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose buffer table truncated"))
		}
		compressionType, cerr := compressionFromTag(body[0])
		if cerr != nil {
			return nil, cerr
		}
		body = body[1:]
		blobLen, n6 := binary.Uvarint(body)
		if n6 <= 0 || blobLen > uint64(len(body)) {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose buffer blob length corrupt"))
		}
		body = body[n6:]
		blob := body[:blobLen]
		body = body[blobLen:]
		buckets[i] = &lazyBucket{compressionType: compressionType, blob: blob}
	}

	needed := make([]bool, numBuffers)
	markNeededBuckets(nodes, heads, filter, needed)

	cursors := make([]int, numBuffers)
	var decompressions int
	records := make([][]byte, len(heads))
	for i, head := range heads {
		rec, err := decodeRecord(nodes, buckets, cursors, head, filter, needed, &decompressions)
		if err != nil {
			return nil, err
		}
		records[i] = rec
	}
	return &TransposeDecoder{records: records, bucketDecompressions: decompressions}, nil
}

// markNeededBuckets walks every record's node chain the same way
// decodeRecord does, but only to record which buffers hold at least one
// field the filter actually wants; it never touches buffer bytes. A buffer
// decodeRecord never marks needed here is never decompressed.
func markNeededBuckets(nodes []node, heads []int32, filter *FieldFilter, needed []bool) {
	maxSteps := len(nodes) + 1
	for _, head := range heads {
		var pathStack []uint32
		cur := head
		for steps := 0; cur != -1; steps++ {
			if steps > maxSteps || cur < 0 || int(cur) >= len(nodes) {
				return
			}
			n := nodes[cur]
			switch n.kind {
			case kindOpaqueRecord:
				if int(n.bufferKey) < len(needed) {
					needed[n.bufferKey] = true
				}
			case kindStartSub:
				pathStack = append(pathStack, n.tag)
			case kindEndSub:
				if len(pathStack) > 0 {
					pathStack = pathStack[:len(pathStack)-1]
				}
			case kindValue:
				path := append(append([]uint32{}, pathStack...), n.tag)
				if filter.required(path) && int(n.bufferKey) < len(needed) {
					needed[n.bufferKey] = true
				}
			}
			cur = n.next
		}
	}
}

func popValue(buckets []*lazyBucket, cursors []int, bk int, wireType uint32, counter *int) ([]byte, error) {
	if bk < 0 || bk >= len(buckets) {
		return nil, base.MarkCorruption(errors.New("riegeli: transpose buffer index out of range"))
	}
	buf, err := buckets[bk].bytes(counter)
	if err != nil {
		return nil, err
	}
	pos := cursors[bk]
	switch wireType {
	case 0:
		_, n := binary.Uvarint(buf[pos:])
		if n <= 0 {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose buffer varint corrupt"))
		}
		cursors[bk] = pos + n
		return buf[pos : pos+n], nil
	case 1:
		if pos+8 > len(buf) {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose buffer fixed64 underrun"))
		}
		cursors[bk] = pos + 8
		return buf[pos : pos+8], nil
	case 5:
		if pos+4 > len(buf) {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose buffer fixed32 underrun"))
		}
		cursors[bk] = pos + 4
		return buf[pos : pos+4], nil
	case 2:
		length, n := binary.Uvarint(buf[pos:])
		if n <= 0 || pos+n+int(length) > len(buf) {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose buffer length-delimited corrupt"))
		}
		end := pos + n + int(length)
		cursors[bk] = end
		return buf[pos:end], nil
	default:
		return nil, base.MarkCorruption(errors.Newf("riegeli: transpose unknown wire type %d", wireType))
	}
}

func popOpaqueRecord(buckets []*lazyBucket, cursors []int, bk int, counter *int) ([]byte, error) {
	if bk < 0 || bk >= len(buckets) {
		return nil, base.MarkCorruption(errors.New("riegeli: transpose buffer index out of range"))
	}
	buf, err := buckets[bk].bytes(counter)
	if err != nil {
		return nil, err
	}
	pos := cursors[bk]
	length, n := binary.Uvarint(buf[pos:])
	if n <= 0 || pos+n+int(length) > len(buf) {
		return nil, base.MarkCorruption(errors.New("riegeli: transpose opaque record corrupt"))
	}
	start := pos + n
	end := start + int(length)
	cursors[bk] = end
	return buf[start:end], nil
}

func appendTag(dst []byte, tag, wireType uint32) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(tag)<<3|uint64(wireType))
	return append(dst, buf[:n]...)
}

// decodeRecord replays the node chain starting at head using an explicit
// stack of open submessage bodies, so decoding a maliciously deep or
// cyclic chain can neither overflow the call stack nor loop forever: step
// count is bounded by the node table size, and exceeding it is corruption.
func decodeRecord(nodes []node, buckets []*lazyBucket, cursors []int, head int32, filter *FieldFilter, needed []bool, counter *int) ([]byte, error) {
	if head == -1 {
		return nil, nil
	}
	var bodies [][]byte = [][]byte{nil}
	var tagStack []uint32
	var pathStack []uint32

	cur := head
	maxSteps := len(nodes) + 1
	for steps := 0; cur != -1; steps++ {
		if steps > maxSteps {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose state machine loop detected"))
		}
		if cur < 0 || int(cur) >= len(nodes) {
			return nil, base.MarkCorruption(errors.New("riegeli: transpose node index out of range"))
		}
		n := nodes[cur]
		switch n.kind {
		case kindOpaqueRecord:
			return popOpaqueRecord(buckets, cursors, int(n.bufferKey), counter)
		case kindStartSub:
			tagStack = append(tagStack, n.tag)
			pathStack = append(pathStack, n.tag)
			bodies = append(bodies, nil)
		case kindEndSub:
			if len(bodies) < 2 || len(tagStack) == 0 {
				return nil, base.MarkCorruption(errors.New("riegeli: transpose unbalanced submessage"))
			}
			child := bodies[len(bodies)-1]
			bodies = bodies[:len(bodies)-1]
			tag := tagStack[len(tagStack)-1]
			tagStack = tagStack[:len(tagStack)-1]
			ownPath := append([]uint32{}, pathStack...)
			pathStack = pathStack[:len(pathStack)-1]
			if filter.mayContain(ownPath) {
				bw := bytesio.NewBackwardWriterFromSuffix(child)
				var lenBuf [binary.MaxVarintLen64]byte
				ln := binary.PutUvarint(lenBuf[:], uint64(len(child)))
				bw.Write(lenBuf[:ln])
				var tagBuf [binary.MaxVarintLen64]byte
				tn := binary.PutUvarint(tagBuf[:], uint64(tag)<<3|2)
				bw.Write(tagBuf[:tn])
				top := len(bodies) - 1
				bodies[top] = append(bodies[top], bw.Bytes()...)
			}
		case kindValue:
			// A buffer never needed anywhere (no record's occurrence of it
			// is ever required) is never popped, so its bucket is never
			// decompressed. Otherwise it must still be popped to keep its
			// cursor in sync for the occurrences that do need it, even when
			// this particular occurrence's value is discarded.
			if int(n.bufferKey) < len(needed) && needed[n.bufferKey] {
				raw, err := popValue(buckets, cursors, int(n.bufferKey), n.wireType, counter)
				if err != nil {
					return nil, err
				}
				path := append(append([]uint32{}, pathStack...), n.tag)
				if filter.required(path) {
					top := len(bodies) - 1
					bodies[top] = appendTag(bodies[top], n.tag, n.wireType)
					bodies[top] = append(bodies[top], raw...)
				}
			}
		}
		cur = n.next
	}
	if len(bodies) != 1 {
		return nil, base.MarkCorruption(errors.New("riegeli: transpose unbalanced submessage at record end"))
	}
	return bodies[0], nil
}

// NumRecords returns the number of records in the chunk.
func (d *TransposeDecoder) NumRecords() int {
	return len(d.records)
}

// Record returns the i'th decoded record.
func (d *TransposeDecoder) Record(i int) ([]byte, error) {
	if i < 0 || i >= len(d.records) {
		return nil, errors.Newf("riegeli: record index %d out of range", i)
	}
	return d.records[i], nil
}
