package wormhole

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/CVDpl/go-live-wormhole/internal/common"
	"github.com/CVDpl/go-live-wormhole/internal/encoding"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/utils"
)

// Dump file layout, little-endian:
//
//	header  magic u32 | version u16 | flags u16 | meta length u32 | msgpack meta | zero pad to 64
//	leaf    magic u32 | vi128 anchor length | anchor | vi128 count | vi128 records | crc32c u32
//	trailer magic u32 | blake3-256 of every preceding byte
const (
	dumpHeaderFixed = 12
	dumpTrailerSize = 4 + utils.DigestSize

	dumpFlagAnchorsOnly uint16 = 1 << 0
)

// DumpMeta is the msgpack-encoded header section of a dump.
type DumpMeta struct {
	IndexID         string `msgpack:"index_id"`
	Version         string `msgpack:"version"`
	Mode            string `msgpack:"mode"`
	LeafCapacity    int    `msgpack:"leaf_capacity"`
	Leaves          int64  `msgpack:"leaves"`
	Keys            int64  `msgpack:"keys"`
	Epoch           uint64 `msgpack:"epoch"`
	CreatedUnixNano int64  `msgpack:"created_unix_nano"`
}

// DumpLeaf is one decoded leaf section.
type DumpLeaf struct {
	Anchor  []byte
	Count   int
	Records []*kv.Record // nil for anchors-only dumps
}

// Dump is a decoded dump file.
type Dump struct {
	Meta        DumpMeta
	AnchorsOnly bool
	Leaves      []DumpLeaf
	Digest      [utils.DigestSize]byte
}

// DumpMemory writes the leaf chain to filename, replacing it atomically. opt
// is a comma-separated flag list; "anchors" omits the records. It expects no
// concurrent writers.
func (c *core) DumpMemory(filename, opt string) error {
	var flags uint16
	for _, f := range strings.Split(opt, ",") {
		switch strings.TrimSpace(f) {
		case "":
		case "anchors":
			flags |= dumpFlagAnchorsOnly
		default:
			return fmt.Errorf("dump option %q: %w", f, ErrInvalidOptions)
		}
	}

	mode := c.enter(false)
	body, leaves, keys := c.dumpLeaves(flags&dumpFlagAnchorsOnly != 0)
	c.exit(mode)

	meta := DumpMeta{
		IndexID:         c.id,
		Version:         Version,
		Mode:            "unsafe",
		LeafCapacity:    c.opts.LeafCapacity,
		Leaves:          leaves,
		Keys:            keys,
		CreatedUnixNano: time.Now().UnixNano(),
	}
	if c.safe {
		meta.Mode = "safe"
		meta.Epoch = c.qm.Epoch()
	}
	mb, err := msgpack.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encode dump meta: %w", err)
	}
	hdr := make([]byte, dumpHeaderFixed, dumpHeaderFixed+len(mb)+common.HeaderAlignment)
	binary.LittleEndian.PutUint32(hdr[0:], common.MagicDump)
	binary.LittleEndian.PutUint16(hdr[4:], common.VersionDump)
	binary.LittleEndian.PutUint16(hdr[6:], flags)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(mb)))
	hdr = utils.PadToAlignment(append(hdr, mb...), common.HeaderAlignment)

	af, err := utils.NewAtomicFile(filename)
	if err != nil {
		return err
	}
	dw := utils.NewDigestWriter(af)
	if _, err := dw.Write(hdr); err != nil {
		af.Abort()
		return fmt.Errorf("write dump header: %w", err)
	}
	if _, err := dw.Write(body); err != nil {
		af.Abort()
		return fmt.Errorf("write dump leaves: %w", err)
	}
	sum := dw.Sum()
	trailer := binary.LittleEndian.AppendUint32(nil, common.MagicDigest)
	if _, err := af.Write(append(trailer, sum[:]...)); err != nil {
		af.Abort()
		return fmt.Errorf("write dump trailer: %w", err)
	}
	if err := af.Commit(); err != nil {
		af.Abort()
		return err
	}
	c.logger.Info("memory dumped", "file", filename, "leaves", leaves, "keys", keys, "digest", fmt.Sprintf("%x", sum[:8]))
	return nil
}

func (c *core) dumpLeaves(anchorsOnly bool) (body []byte, leaves, keys int64) {
	for l := c.head; l != nil; l = l.next.Load() {
		s := l.snap.Load()
		start := len(body)
		body = binary.LittleEndian.AppendUint32(body, common.MagicLeaf)
		body = encoding.AppendVI128(body, uint32(len(l.anchor)))
		body = append(body, l.anchor...)
		body = encoding.AppendVI128(body, uint32(len(s.kvs)))
		if !anchorsOnly {
			for _, r := range s.kvs {
				body = kv.VI128Encode(body, r)
			}
		}
		body = binary.LittleEndian.AppendUint32(body, utils.ComputeCRC32C(body[start:]))
		leaves++
		keys += int64(len(s.kvs))
	}
	return body, leaves, keys
}

// ParseDump decodes and validates a dump produced by DumpMemory.
func ParseDump(data []byte) (*Dump, error) {
	if len(data) < dumpHeaderFixed+dumpTrailerSize {
		return nil, fmt.Errorf("%w: dump of %d bytes", ErrCorrupt, len(data))
	}
	if m := binary.LittleEndian.Uint32(data[0:]); m != common.MagicDump {
		return nil, fmt.Errorf("%w: header %#x", ErrInvalidMagic, m)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != common.VersionDump {
		return nil, fmt.Errorf("%w: %#x", ErrUnsupportedVersion, v)
	}
	flags := binary.LittleEndian.Uint16(data[6:])
	metaLen := int(binary.LittleEndian.Uint32(data[8:]))

	tail := len(data) - dumpTrailerSize
	if m := binary.LittleEndian.Uint32(data[tail:]); m != common.MagicDigest {
		return nil, fmt.Errorf("%w: trailer %#x", ErrInvalidMagic, m)
	}
	d := &Dump{AnchorsOnly: flags&dumpFlagAnchorsOnly != 0}
	copy(d.Digest[:], data[tail+4:])
	if utils.SumBLAKE3(data[:tail]) != d.Digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	off := dumpHeaderFixed + metaLen
	if off > tail {
		return nil, fmt.Errorf("%w: meta length %d", ErrCorrupt, metaLen)
	}
	if err := msgpack.Unmarshal(data[dumpHeaderFixed:off], &d.Meta); err != nil {
		return nil, fmt.Errorf("%w: meta: %v", ErrCorrupt, err)
	}
	if r := off % common.HeaderAlignment; r != 0 {
		off += common.HeaderAlignment - r
	}

	var keys int64
	var lastAnchor []byte
	for off < tail {
		leaf, n, err := parseDumpLeaf(data[off:tail], d.AnchorsOnly)
		if err != nil {
			return nil, fmt.Errorf("leaf section at %d: %w", off, err)
		}
		if len(d.Leaves) > 0 && bytes.Compare(lastAnchor, leaf.Anchor) >= 0 {
			return nil, fmt.Errorf("%w: anchor %q after %q", ErrCorrupt, leaf.Anchor, lastAnchor)
		}
		lastAnchor = leaf.Anchor
		keys += int64(leaf.Count)
		d.Leaves = append(d.Leaves, leaf)
		off += n
	}
	if int64(len(d.Leaves)) != d.Meta.Leaves || keys != d.Meta.Keys {
		return nil, fmt.Errorf("%w: %d leaves / %d keys, meta says %d / %d",
			ErrCorrupt, len(d.Leaves), keys, d.Meta.Leaves, d.Meta.Keys)
	}
	return d, nil
}

func parseDumpLeaf(buf []byte, anchorsOnly bool) (DumpLeaf, int, error) {
	var out DumpLeaf
	if len(buf) < 8 {
		return out, 0, fmt.Errorf("%w: short section", ErrCorrupt)
	}
	if m := binary.LittleEndian.Uint32(buf); m != common.MagicLeaf {
		return out, 0, fmt.Errorf("%w: leaf %#x", ErrInvalidMagic, m)
	}
	off := 4
	alen, n, err := encoding.DecodeVI128(buf[off:])
	if err != nil {
		return out, 0, fmt.Errorf("%w: anchor length: %v", ErrCorrupt, err)
	}
	off += n
	if int(alen) > len(buf)-off {
		return out, 0, fmt.Errorf("%w: anchor of %d bytes", ErrCorrupt, alen)
	}
	out.Anchor = bytes.Clone(buf[off : off+int(alen)])
	off += int(alen)
	cnt, n, err := encoding.DecodeVI128(buf[off:])
	if err != nil {
		return out, 0, fmt.Errorf("%w: record count: %v", ErrCorrupt, err)
	}
	off += n
	out.Count = int(cnt)
	if !anchorsOnly {
		// Every record takes at least one byte; a count beyond the section
		// length fails below without reserving it up front.
		out.Records = make([]*kv.Record, 0, min(int(cnt), len(buf)-off))
		for i := 0; i < int(cnt); i++ {
			r, n, err := kv.VI128Decode(buf[off:])
			if err != nil {
				return out, 0, fmt.Errorf("%w: record %d: %v", ErrCorrupt, i, err)
			}
			if r.KeyLen() > common.MaxKeySize {
				return out, 0, fmt.Errorf("%w: record %d: %w", ErrCorrupt, i, ErrKeyTooLarge)
			}
			if i > 0 && kv.Compare(out.Records[i-1], r) >= 0 {
				return out, 0, fmt.Errorf("%w: record %d out of order", ErrCorrupt, i)
			}
			out.Records = append(out.Records, r)
			off += n
		}
	}
	if off+4 > len(buf) {
		return out, 0, fmt.Errorf("%w: missing leaf crc", ErrCorrupt)
	}
	if !utils.VerifyCRC32C(buf[:off], utils.ReadCRC32C(buf, off)) {
		return out, 0, fmt.Errorf("%w: leaf %q", ErrCRCMismatch, out.Anchor)
	}
	return out, off + 4, nil
}
