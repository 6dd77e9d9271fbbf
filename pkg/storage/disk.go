package storage

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cloudomate/objectio/pkg/common"
)

const (
	superblockMagic   = 0x4F424A49 // "OBJI"
	superblockVersion = 1
	superblockSize    = 4096
	blockHeaderMagic  = 0x424C4B48 // "BLKH"
	blockHeaderSize   = 32
	// DefaultBlockSize is the unit of allocation and raw I/O a disk formats
	// with when the caller doesn't override it: a block holds one chunk of a
	// shard's on-disk payload plus its header. A shard larger than one
	// block's capacity spans a contiguous extent of blocks (see
	// Service.WriteShard).
	DefaultBlockSize = 4 << 20
)

// Superblock is the first 4 KiB of every disk, identifying its layout so a
// reopen can validate it before trusting the bitmap or data regions.
type Superblock struct {
	Magic        uint32
	Version      uint32
	DiskId       common.DiskId
	BlockSize    uint32
	TotalBlocks  uint64
	BitmapOffset uint64
	BitmapSize   uint64
	DataOffset   uint64
}

func (s Superblock) toBytes() []byte {
	buf := make([]byte, superblockSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], s.Version)
	copy(buf[8:24], s.DiskId.Bytes())
	binary.LittleEndian.PutUint32(buf[24:28], s.BlockSize)
	binary.LittleEndian.PutUint64(buf[28:36], s.TotalBlocks)
	binary.LittleEndian.PutUint64(buf[36:44], s.BitmapOffset)
	binary.LittleEndian.PutUint64(buf[44:52], s.BitmapSize)
	binary.LittleEndian.PutUint64(buf[52:60], s.DataOffset)
	return buf
}

func superblockFromBytes(buf []byte) (Superblock, error) {
	if len(buf) < 60 {
		return Superblock{}, common.Corruptionf("superblock truncated: %d bytes", len(buf))
	}
	s := Superblock{
		Magic:        binary.LittleEndian.Uint32(buf[0:4]),
		Version:      binary.LittleEndian.Uint32(buf[4:8]),
		DiskId:       common.DiskId(common.ObjectIdFromBytes(buf[8:24])),
		BlockSize:    binary.LittleEndian.Uint32(buf[24:28]),
		TotalBlocks:  binary.LittleEndian.Uint64(buf[28:36]),
		BitmapOffset: binary.LittleEndian.Uint64(buf[36:44]),
		BitmapSize:   binary.LittleEndian.Uint64(buf[44:52]),
		DataOffset:   binary.LittleEndian.Uint64(buf[52:60]),
	}
	if s.Magic != superblockMagic {
		return Superblock{}, common.Corruptionf("superblock magic mismatch: got %#x", s.Magic)
	}
	return s, nil
}

// BlockHeader precedes every block's payload on disk: enough to identify
// which object/stripe a block belongs to and detect silent corruption
// without consulting the metadata store.
type BlockHeader struct {
	Magic    uint32
	ObjectId common.ObjectId
	StripeId uint32
	Length   uint32
	CRC32C   uint32
}

func (h BlockHeader) toBytes() []byte {
	buf := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	copy(buf[4:20], h.ObjectId.Bytes())
	binary.LittleEndian.PutUint32(buf[20:24], h.StripeId)
	binary.LittleEndian.PutUint32(buf[24:28], h.Length)
	binary.LittleEndian.PutUint32(buf[28:32], h.CRC32C)
	return buf
}

func blockHeaderFromBytes(buf []byte) (BlockHeader, error) {
	if len(buf) != blockHeaderSize {
		return BlockHeader{}, common.Corruptionf("block header has wrong size %d", len(buf))
	}
	h := BlockHeader{
		Magic:    binary.LittleEndian.Uint32(buf[0:4]),
		ObjectId: common.ObjectIdFromBytes(buf[4:20]),
		StripeId: binary.LittleEndian.Uint32(buf[20:24]),
		Length:   binary.LittleEndian.Uint32(buf[24:28]),
		CRC32C:   binary.LittleEndian.Uint32(buf[28:32]),
	}
	if h.Magic != blockHeaderMagic {
		return BlockHeader{}, common.Corruptionf("block header magic mismatch: got %#x", h.Magic)
	}
	return h, nil
}

// DiskManager owns one raw device file: its superblock, its block bitmap
// (persisted at BitmapOffset, synced to disk only when dirty), and the
// block-aligned read/write path over the data region.
type DiskManager struct {
	file       *os.File
	superblock Superblock
	bitmap     *BlockBitmap

	mu    sync.Mutex
	dirty atomic.Bool
}

// FormatDisk lays down a fresh superblock, an all-free bitmap, and zeroes
// no further state (data blocks are validated by header, not pre-zeroed).
// blockSize is the fixed size of every block on this disk; a zero value
// falls back to DefaultBlockSize.
func FormatDisk(path string, diskID common.DiskId, totalBlocks uint64, blockSize uint32) (*DiskManager, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "create disk file %s", path)
	}

	bitmapSize := alignUp(int((totalBlocks+7)/8), walAlignment)
	sb := Superblock{
		Magic:        superblockMagic,
		Version:      superblockVersion,
		DiskId:       diskID,
		BlockSize:    blockSize,
		TotalBlocks:  totalBlocks,
		BitmapOffset: superblockSize,
		BitmapSize:   uint64(bitmapSize),
		DataOffset:   uint64(superblockSize + bitmapSize),
	}

	if _, err := f.WriteAt(sb.toBytes(), 0); err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "write superblock")
	}

	bitmap := NewBlockBitmap(totalBlocks)
	if _, err := f.WriteAt(bitmap.ToBytes(), int64(sb.BitmapOffset)); err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "write initial bitmap")
	}
	dataEnd := int64(sb.DataOffset) + int64(totalBlocks)*int64(sb.BlockSize)
	if err := f.Truncate(dataEnd); err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "size data region")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "sync new disk")
	}

	return &DiskManager{file: f, superblock: sb, bitmap: bitmap}, nil
}

// OpenDiskManager validates and reopens a disk formatted by FormatDisk.
func OpenDiskManager(path string) (*DiskManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "open disk file %s", path)
	}

	sbBuf := make([]byte, superblockSize)
	if _, err := f.ReadAt(sbBuf, 0); err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "read superblock")
	}
	sb, err := superblockFromBytes(sbBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	bitmapBuf := make([]byte, sb.BitmapSize)
	if _, err := f.ReadAt(bitmapBuf, int64(sb.BitmapOffset)); err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "read bitmap")
	}
	bitmap := LoadBlockBitmap(bitmapBuf, sb.TotalBlocks)

	return &DiskManager{file: f, superblock: sb, bitmap: bitmap}, nil
}

func (d *DiskManager) Close() error {
	_ = d.SyncBitmap()
	return d.file.Close()
}

func (d *DiskManager) Superblock() Superblock { return d.superblock }

// BlockSize returns the fixed per-block size this disk was formatted with.
func (d *DiskManager) BlockSize() uint32 { return d.superblock.BlockSize }

func (d *DiskManager) blockOffset(blockNum uint64) int64 {
	return int64(d.superblock.DataOffset) + int64(blockNum)*int64(d.superblock.BlockSize)
}

// WriteBlock writes header+data for blockNum, padding to the configured
// block size, then fsyncs the write before returning.
func (d *DiskManager) WriteBlock(blockNum uint64, objectID common.ObjectId, stripeID uint32, data []byte) error {
	if blockNum >= d.superblock.TotalBlocks {
		return common.InvalidArgumentf("block %d out of range (max %d)", blockNum, d.superblock.TotalBlocks)
	}
	payloadCap := int(d.superblock.BlockSize) - blockHeaderSize
	if len(data) > payloadCap {
		return common.InvalidArgumentf("block payload %d exceeds capacity %d", len(data), payloadCap)
	}

	header := BlockHeader{
		Magic:    blockHeaderMagic,
		ObjectId: objectID,
		StripeId: stripeID,
		Length:   uint32(len(data)),
		CRC32C:   common.CRC32C(data),
	}

	buf := make([]byte, d.superblock.BlockSize)
	copy(buf, header.toBytes())
	copy(buf[blockHeaderSize:], data)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.file.WriteAt(buf, d.blockOffset(blockNum)); err != nil {
		return common.Wrap(common.KindInternal, err, "write block %d", blockNum)
	}
	return d.file.Sync()
}

// ReadBlock reads blockNum's header and payload, verifying the header magic
// and the payload checksum.
func (d *DiskManager) ReadBlock(blockNum uint64) (BlockHeader, []byte, error) {
	if blockNum >= d.superblock.TotalBlocks {
		return BlockHeader{}, nil, common.InvalidArgumentf("block %d out of range (max %d)", blockNum, d.superblock.TotalBlocks)
	}

	buf := make([]byte, d.superblock.BlockSize)
	d.mu.Lock()
	_, err := d.file.ReadAt(buf, d.blockOffset(blockNum))
	d.mu.Unlock()
	if err != nil {
		return BlockHeader{}, nil, common.Wrap(common.KindInternal, err, "read block %d", blockNum)
	}

	header, err := blockHeaderFromBytes(buf[:blockHeaderSize])
	if err != nil {
		return BlockHeader{}, nil, common.Wrap(common.KindCorruption, err, "corrupt-block %d header", blockNum)
	}
	if int(header.Length) > len(buf)-blockHeaderSize {
		return BlockHeader{}, nil, common.Corruptionf("corrupt-block %d: length %d exceeds block capacity", blockNum, header.Length)
	}
	data := buf[blockHeaderSize : blockHeaderSize+int(header.Length)]
	if !common.VerifyCRC32C(data, header.CRC32C) {
		return BlockHeader{}, nil, common.Corruptionf("corrupt-block %d: checksum mismatch", blockNum)
	}
	return header, data, nil
}

// HealthCheck verifies the superblock is still readable and self-consistent,
// the signal used to decide whether a disk is Healthy or Degraded.
func (d *DiskManager) HealthCheck() error {
	buf := make([]byte, superblockSize)
	d.mu.Lock()
	_, err := d.file.ReadAt(buf, 0)
	d.mu.Unlock()
	if err != nil {
		return common.Wrap(common.KindUnavailable, err, "read superblock")
	}
	_, err = superblockFromBytes(buf)
	return err
}

func (d *DiskManager) Allocate() (uint64, error) {
	block, ok := d.bitmap.Allocate()
	if !ok {
		return 0, common.DiskFullf("no free blocks on disk %s", d.superblock.DiskId)
	}
	d.dirty.Store(true)
	return block, nil
}

func (d *DiskManager) AllocateExtent(count uint64) (Extent, error) {
	extent, ok := d.bitmap.AllocateExtent(count)
	if !ok {
		return Extent{}, common.DiskFullf("no %d-block extent free on disk %s", count, d.superblock.DiskId)
	}
	d.dirty.Store(true)
	return extent, nil
}

func (d *DiskManager) Free(block uint64) error {
	if err := d.bitmap.Free(block); err != nil {
		return err
	}
	d.dirty.Store(true)
	return nil
}

// FreeExtent releases every block in e, allocated together by a prior
// AllocateExtent call.
func (d *DiskManager) FreeExtent(e Extent) error {
	if err := d.bitmap.FreeExtent(e); err != nil {
		return err
	}
	d.dirty.Store(true)
	return nil
}

func (d *DiskManager) FreeBlocks() uint64 { return d.bitmap.FreeBlocks() }
func (d *DiskManager) TotalBlocks() uint64 { return d.bitmap.TotalBlocks() }

// SyncBitmap flushes the in-memory bitmap to its on-disk region if it has
// changed since the last sync; called on checkpoint and on shutdown.
func (d *DiskManager) SyncBitmap() error {
	if !d.dirty.Load() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	data := d.bitmap.ToBytes()
	buf := make([]byte, d.superblock.BitmapSize)
	copy(buf, data)
	if _, err := d.file.WriteAt(buf, int64(d.superblock.BitmapOffset)); err != nil {
		return common.Wrap(common.KindInternal, err, "write bitmap")
	}
	if err := d.file.Sync(); err != nil {
		return common.Wrap(common.KindInternal, err, "sync bitmap")
	}
	d.dirty.Store(false)
	return nil
}
