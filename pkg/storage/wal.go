package storage

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/metrics"
)

const (
	walRecordMagic uint32 = 0x57414C52 // "WALR"
	walHeaderMagic uint32 = 0x57414C48 // "WALH"
	walHeaderSize  int64  = 4096
	// recordHeaderSize is magic(4) + type(1) + txn_id(8) + length(4).
	recordHeaderSize = 17
	walAlignment     = 4096
)

// RecordType tags the purpose of a WAL record.
type RecordType uint8

const (
	RecordBeginTxn   RecordType = 1
	RecordWrite      RecordType = 2
	RecordCommit     RecordType = 3
	RecordAbort      RecordType = 4
	RecordCheckpoint RecordType = 5
)

func recordTypeFromByte(b byte) (RecordType, bool) {
	switch RecordType(b) {
	case RecordBeginTxn, RecordWrite, RecordCommit, RecordAbort, RecordCheckpoint:
		return RecordType(b), true
	default:
		return 0, false
	}
}

// SyncMode controls how aggressively the WAL calls fsync.
type SyncMode int

const (
	SyncAlways SyncMode = iota
	SyncOnCommit
	SyncNever
)

// WriteOp is the payload of a Write record: one block-sized write within a
// transaction.
type WriteOp struct {
	BlockNum     uint64
	ObjectId     common.ObjectId
	ObjectOffset uint64
	Data         []byte
}

func (w WriteOp) toBytes() []byte {
	buf := make([]byte, 8+16+8+4+len(w.Data))
	binary.LittleEndian.PutUint64(buf[0:8], w.BlockNum)
	copy(buf[8:24], w.ObjectId.Bytes())
	binary.LittleEndian.PutUint64(buf[24:32], w.ObjectOffset)
	binary.LittleEndian.PutUint32(buf[32:36], uint32(len(w.Data)))
	copy(buf[36:], w.Data)
	return buf
}

func writeOpFromBytes(data []byte) (WriteOp, error) {
	if len(data) < 36 {
		return WriteOp{}, common.Corruptionf("write op data too small")
	}
	blockNum := binary.LittleEndian.Uint64(data[0:8])
	objectID := common.ObjectIdFromBytes(data[8:24])
	objectOffset := binary.LittleEndian.Uint64(data[24:32])
	dataLen := int(binary.LittleEndian.Uint32(data[32:36]))
	if len(data) < 36+dataLen {
		return WriteOp{}, common.Corruptionf("write op data truncated")
	}
	payload := make([]byte, dataLen)
	copy(payload, data[36:36+dataLen])
	return WriteOp{BlockNum: blockNum, ObjectId: objectID, ObjectOffset: objectOffset, Data: payload}, nil
}

// walHeader is the 36-byte (padded to 4 KiB) header at the start of the WAL
// file.
type walHeader struct {
	magic            uint32
	version          uint32
	writeOffset      int64
	lastCommittedTxn uint64
	lastCheckpoint   int64
	checksum         uint32
}

const walHeaderChecksumOffset = 32

func newWalHeader() walHeader {
	return walHeader{magic: walHeaderMagic, version: 1, writeOffset: walHeaderSize}
}

func (h walHeader) toBytes() [36]byte {
	var buf [36]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.version)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.writeOffset))
	binary.LittleEndian.PutUint64(buf[16:24], h.lastCommittedTxn)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.lastCheckpoint))
	binary.LittleEndian.PutUint32(buf[32:36], h.checksum)
	return buf
}

func walHeaderFromBytes(data []byte) (walHeader, error) {
	if len(data) < 36 {
		return walHeader{}, common.Corruptionf("WAL header too small")
	}
	h := walHeader{
		magic:            binary.LittleEndian.Uint32(data[0:4]),
		version:          binary.LittleEndian.Uint32(data[4:8]),
		writeOffset:      int64(binary.LittleEndian.Uint64(data[8:16])),
		lastCommittedTxn: binary.LittleEndian.Uint64(data[16:24]),
		lastCheckpoint:   int64(binary.LittleEndian.Uint64(data[24:32])),
		checksum:         binary.LittleEndian.Uint32(data[32:36]),
	}
	if h.magic != walHeaderMagic {
		return walHeader{}, common.Corruptionf("invalid WAL header magic")
	}
	if h.computeChecksum() != h.checksum {
		return walHeader{}, common.Corruptionf("WAL header checksum mismatch")
	}
	return h, nil
}

func (h walHeader) computeChecksum() uint32 {
	buf := h.toBytes()
	return common.CRC32C(buf[:walHeaderChecksumOffset])
}

func (h *walHeader) updateChecksum() {
	h.checksum = h.computeChecksum()
}

// Record is one serialized WAL entry.
type Record struct {
	Type  RecordType
	TxnId uint64
	Data  []byte
}

func (r Record) toBytes() []byte {
	buf := make([]byte, recordHeaderSize+len(r.Data)+4)
	binary.LittleEndian.PutUint32(buf[0:4], walRecordMagic)
	buf[4] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[5:13], r.TxnId)
	binary.LittleEndian.PutUint32(buf[13:17], uint32(len(r.Data)))
	copy(buf[recordHeaderSize:], r.Data)
	crc := common.CRC32C(buf[:recordHeaderSize+len(r.Data)])
	binary.LittleEndian.PutUint32(buf[recordHeaderSize+len(r.Data):], crc)
	return buf
}

func recordFromBytes(data []byte) (Record, error) {
	if len(data) < recordHeaderSize+4 {
		return Record{}, common.Corruptionf("WAL record too small")
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != walRecordMagic {
		return Record{}, common.Corruptionf("invalid WAL record magic")
	}
	recordType, ok := recordTypeFromByte(data[4])
	if !ok {
		return Record{}, common.Corruptionf("invalid WAL record type")
	}
	txnID := binary.LittleEndian.Uint64(data[5:13])
	dataLen := int(binary.LittleEndian.Uint32(data[13:17]))
	totalLen := recordHeaderSize + dataLen + 4
	if len(data) < totalLen {
		return Record{}, common.Corruptionf("WAL record data truncated")
	}
	recordData := make([]byte, dataLen)
	copy(recordData, data[recordHeaderSize:recordHeaderSize+dataLen])
	storedCRC := binary.LittleEndian.Uint32(data[recordHeaderSize+dataLen : totalLen])
	computedCRC := common.CRC32C(data[:recordHeaderSize+dataLen])
	if computedCRC != storedCRC {
		return Record{}, common.Corruptionf("WAL record CRC mismatch")
	}
	return Record{Type: recordType, TxnId: txnID, Data: recordData}, nil
}

func (r Record) serializedSize() int {
	return recordHeaderSize + len(r.Data) + 4
}

type activeTxn struct {
	writes []WriteOp
}

// WAL is the write-ahead log the MetadataStore commits its mutations to: it
// provides begin/write/commit/abort/checkpoint transaction semantics and
// replay for crash recovery. Records are appended sequentially and each
// record's on-disk footprint is padded to a 4 KiB boundary.
type WAL struct {
	file      *os.File
	mu        sync.Mutex
	header    walHeader
	nextTxnID atomic.Uint64
	activeMu  sync.Mutex
	active    map[uint64]*activeTxn
	syncMode  SyncMode
	sizeLimit int64
}

// CreateWAL initializes a new WAL file of size bytes.
func CreateWAL(path string, size int64, syncMode SyncMode) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "create WAL file")
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "size WAL file")
	}

	header := newWalHeader()
	header.updateChecksum()

	buf := make([]byte, walHeaderSize)
	hb := header.toBytes()
	copy(buf, hb[:])
	if _, err := f.WriteAt(buf, 0); err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "write WAL header")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "sync WAL header")
	}

	w := &WAL{
		file:      f,
		header:    header,
		active:    make(map[uint64]*activeTxn),
		syncMode:  syncMode,
		sizeLimit: size,
	}
	w.nextTxnID.Store(1)
	return w, nil
}

// OpenWAL opens an existing WAL file, trusting its header for the next
// transaction ID and current write offset.
func OpenWAL(path string, syncMode SyncMode) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "open WAL file")
	}

	buf := make([]byte, walHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "read WAL header")
	}
	header, err := walHeaderFromBytes(buf)
	if err != nil {
		f.Close()
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "stat WAL file")
	}

	w := &WAL{
		file:      f,
		header:    header,
		active:    make(map[uint64]*activeTxn),
		syncMode:  syncMode,
		sizeLimit: info.Size(),
	}
	w.nextTxnID.Store(header.lastCommittedTxn + 1)
	return w, nil
}

func (w *WAL) Close() error { return w.file.Close() }

// Begin starts a new transaction and returns its ID.
func (w *WAL) Begin() (uint64, error) {
	txnID := w.nextTxnID.Add(1) - 1
	if _, err := w.appendRecord(Record{Type: RecordBeginTxn, TxnId: txnID}); err != nil {
		return 0, err
	}
	w.activeMu.Lock()
	w.active[txnID] = &activeTxn{}
	w.activeMu.Unlock()
	return txnID, nil
}

// Write appends a write operation to an open transaction.
func (w *WAL) Write(txnID uint64, op WriteOp) error {
	w.activeMu.Lock()
	txn, ok := w.active[txnID]
	if !ok {
		w.activeMu.Unlock()
		return common.FailedPreconditionf("transaction %d not found", txnID)
	}
	txn.writes = append(txn.writes, op)
	w.activeMu.Unlock()

	_, err := w.appendRecord(Record{Type: RecordWrite, TxnId: txnID, Data: op.toBytes()})
	return err
}

// Commit finalizes txnID and returns the writes it accumulated.
func (w *WAL) Commit(txnID uint64) ([]WriteOp, error) {
	w.activeMu.Lock()
	txn, ok := w.active[txnID]
	if ok {
		delete(w.active, txnID)
	}
	w.activeMu.Unlock()
	if !ok {
		return nil, common.FailedPreconditionf("transaction %d not found", txnID)
	}

	if _, err := w.appendRecord(Record{Type: RecordCommit, TxnId: txnID}); err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.header.lastCommittedTxn = txnID
	w.header.updateChecksum()
	w.mu.Unlock()

	if w.syncMode == SyncAlways || w.syncMode == SyncOnCommit {
		if err := w.Sync(); err != nil {
			return nil, err
		}
		if err := w.flushHeader(); err != nil {
			return nil, err
		}
	}
	return txn.writes, nil
}

// Abort discards txnID without applying its writes.
func (w *WAL) Abort(txnID uint64) error {
	w.activeMu.Lock()
	delete(w.active, txnID)
	w.activeMu.Unlock()
	_, err := w.appendRecord(Record{Type: RecordAbort, TxnId: txnID})
	return err
}

// Checkpoint records the current write offset as a recovery boundary and
// forces a durable header flush.
func (w *WAL) Checkpoint() (int64, error) {
	w.mu.Lock()
	offset := w.header.writeOffset
	w.mu.Unlock()

	txnID := w.nextTxnID.Add(1) - 1
	if _, err := w.appendRecord(Record{Type: RecordCheckpoint, TxnId: txnID}); err != nil {
		return 0, err
	}

	w.mu.Lock()
	w.header.lastCheckpoint = offset
	w.header.updateChecksum()
	w.mu.Unlock()

	if err := w.Sync(); err != nil {
		return 0, err
	}
	if err := w.flushHeader(); err != nil {
		return 0, err
	}
	metrics.WALCheckpointsTotal.Inc()
	return offset, nil
}

func (w *WAL) appendRecord(r Record) (int64, error) {
	recordBytes := r.toBytes()
	alignedLen := alignUp(len(recordBytes), walAlignment)

	w.mu.Lock()
	offset := w.header.writeOffset
	if offset+int64(alignedLen) > w.sizeLimit {
		w.mu.Unlock()
		return 0, common.DiskFullf("WAL is full")
	}
	w.header.writeOffset = offset + int64(alignedLen)
	w.mu.Unlock()

	buf := make([]byte, alignedLen)
	copy(buf, recordBytes)
	if _, err := w.file.WriteAt(buf, offset); err != nil {
		return 0, common.Wrap(common.KindInternal, err, "write WAL record")
	}
	if w.syncMode == SyncAlways {
		if err := w.file.Sync(); err != nil {
			return 0, common.Wrap(common.KindInternal, err, "sync WAL record")
		}
	}

	metrics.WALAppendsTotal.Inc()
	return offset, nil
}

func alignUp(n, alignment int) int {
	return ((n + alignment - 1) / alignment) * alignment
}

func (w *WAL) Sync() error {
	if err := w.file.Sync(); err != nil {
		return common.Wrap(common.KindInternal, err, "sync WAL")
	}
	return nil
}

func (w *WAL) flushHeader() error {
	w.mu.Lock()
	hb := w.header.toBytes()
	w.mu.Unlock()

	buf := make([]byte, walHeaderSize)
	copy(buf, hb[:])
	if _, err := w.file.WriteAt(buf, 0); err != nil {
		return common.Wrap(common.KindInternal, err, "write WAL header")
	}
	return w.Sync()
}

// Replay scans the WAL from just after the header and returns every
// committed transaction's writes. It stops at the first corrupt or torn
// record rather than erroring, since a crash can legitimately leave a
// partially-written tail record.
func (w *WAL) Replay() (map[uint64][]WriteOp, error) {
	offset := walHeaderSize

	w.mu.Lock()
	endOffset := w.header.writeOffset
	w.mu.Unlock()

	transactions := make(map[uint64][]WriteOp)
	committed := make(map[uint64][]WriteOp)

	for offset < endOffset {
		buf := make([]byte, walAlignment)
		if _, err := w.file.ReadAt(buf, offset); err != nil {
			break
		}

		record, err := recordFromBytes(buf)
		if err != nil {
			break
		}

		switch record.Type {
		case RecordBeginTxn:
			transactions[record.TxnId] = nil
		case RecordWrite:
			if writes, ok := transactions[record.TxnId]; ok {
				if op, err := writeOpFromBytes(record.Data); err == nil {
					transactions[record.TxnId] = append(writes, op)
				}
			}
		case RecordCommit:
			if writes, ok := transactions[record.TxnId]; ok {
				committed[record.TxnId] = writes
				delete(transactions, record.TxnId)
			}
		case RecordAbort:
			delete(transactions, record.TxnId)
		case RecordCheckpoint:
			// No state change beyond advancing past the record.
		}

		alignedLen := alignUp(record.serializedSize(), walAlignment)
		offset += int64(alignedLen)
		metrics.WALReplayRecordsTotal.Inc()
	}

	return committed, nil
}

// CurrentLSN returns the current write offset, used as a log sequence
// marker by the metadata store.
func (w *WAL) CurrentLSN() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.header.writeOffset
}
