package block

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cloudomate/objectio/pkg/common"
	"github.com/cloudomate/objectio/pkg/log"
)

const (
	journalMagic      uint64 = 0x4F424A5F4A524E4C // "OBJ_JRNL"
	journalVersion    uint32 = 1
	journalHeaderSize        = 8 + 4 + 8 + 8 // magic + version + sequence + last_checkpoint
)

// EntryType tags a journal entry's purpose.
type EntryType uint8

const (
	EntryWrite      EntryType = 1
	EntryFlush      EntryType = 2
	EntryCheckpoint EntryType = 3
)

func entryTypeFromByte(b byte) (EntryType, bool) {
	switch EntryType(b) {
	case EntryWrite, EntryFlush, EntryCheckpoint:
		return EntryType(b), true
	default:
		return 0, false
	}
}

// JournalEntry is one durable record of a pending or completed write-cache
// operation.
type JournalEntry struct {
	Sequence  uint64
	Type      EntryType
	VolumeId  string
	ChunkId   uint64
	Offset    uint64
	Data      []byte
	Checksum  uint32
}

func newWriteEntry(seq uint64, volumeId string, chunkId, offset uint64, data []byte) JournalEntry {
	e := JournalEntry{Sequence: seq, Type: EntryWrite, VolumeId: volumeId, ChunkId: chunkId, Offset: offset, Data: data}
	e.Checksum = e.computeChecksum()
	return e
}

func newFlushEntry(seq uint64, volumeId string, chunkId uint64) JournalEntry {
	e := JournalEntry{Sequence: seq, Type: EntryFlush, VolumeId: volumeId, ChunkId: chunkId}
	e.Checksum = e.computeChecksum()
	return e
}

func newCheckpointEntry(seq uint64) JournalEntry {
	e := JournalEntry{Sequence: seq, Type: EntryCheckpoint}
	e.Checksum = e.computeChecksum()
	return e
}

func (e JournalEntry) computeChecksum() uint32 {
	buf := make([]byte, 0, 8+1+len(e.VolumeId)+8+8+len(e.Data))
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], e.Sequence)
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(e.Type))
	buf = append(buf, e.VolumeId...)
	binary.LittleEndian.PutUint64(tmp[:], e.ChunkId)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], e.Offset)
	buf = append(buf, tmp[:]...)
	buf = append(buf, e.Data...)
	return common.CRC32C(buf)
}

func (e JournalEntry) Verify() bool { return e.Checksum == e.computeChecksum() }

// serialize writes sequence(8) type(1) vol_len(2)+vol data chunk_id(8)
// offset(8) data_len(4)+data checksum(4).
func (e JournalEntry) serialize() []byte {
	buf := make([]byte, 0, 8+1+2+len(e.VolumeId)+8+8+4+len(e.Data)+4)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], e.Sequence)
	buf = append(buf, tmp8[:]...)
	buf = append(buf, byte(e.Type))

	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], uint16(len(e.VolumeId)))
	buf = append(buf, tmp2[:]...)
	buf = append(buf, e.VolumeId...)

	binary.LittleEndian.PutUint64(tmp8[:], e.ChunkId)
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], e.Offset)
	buf = append(buf, tmp8[:]...)

	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(e.Data)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, e.Data...)

	binary.LittleEndian.PutUint32(tmp4[:], e.Checksum)
	buf = append(buf, tmp4[:]...)
	return buf
}

func deserializeEntry(r io.Reader) (JournalEntry, error) {
	var e JournalEntry

	var seqBuf [8]byte
	if _, err := io.ReadFull(r, seqBuf[:]); err != nil {
		return e, err
	}
	e.Sequence = binary.LittleEndian.Uint64(seqBuf[:])

	var typeBuf [1]byte
	if _, err := io.ReadFull(r, typeBuf[:]); err != nil {
		return e, err
	}
	entryType, ok := entryTypeFromByte(typeBuf[0])
	if !ok {
		return e, common.Corruptionf("invalid journal entry type %d", typeBuf[0])
	}
	e.Type = entryType

	var volLenBuf [2]byte
	if _, err := io.ReadFull(r, volLenBuf[:]); err != nil {
		return e, err
	}
	volLen := binary.LittleEndian.Uint16(volLenBuf[:])
	volBuf := make([]byte, volLen)
	if _, err := io.ReadFull(r, volBuf); err != nil {
		return e, err
	}
	e.VolumeId = string(volBuf)

	var chunkBuf [8]byte
	if _, err := io.ReadFull(r, chunkBuf[:]); err != nil {
		return e, err
	}
	e.ChunkId = binary.LittleEndian.Uint64(chunkBuf[:])

	var offsetBuf [8]byte
	if _, err := io.ReadFull(r, offsetBuf[:]); err != nil {
		return e, err
	}
	e.Offset = binary.LittleEndian.Uint64(offsetBuf[:])

	var dataLenBuf [4]byte
	if _, err := io.ReadFull(r, dataLenBuf[:]); err != nil {
		return e, err
	}
	dataLen := binary.LittleEndian.Uint32(dataLenBuf[:])
	if dataLen > 0 {
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return e, err
		}
		e.Data = data
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return e, err
	}
	e.Checksum = binary.LittleEndian.Uint32(crcBuf[:])

	return e, nil
}

// Journal is the durable write-ahead log backing the volume write cache:
// every accepted write is recorded here before it is acknowledged, so a
// crash before the next flush can still recover the pending bytes.
type Journal struct {
	path string

	writerMu sync.Mutex
	file     *os.File
	writer   *bufio.Writer

	sequence       atomic.Uint64
	lastCheckpoint atomic.Uint64
	maxSize        int64
	currentSize    atomic.Int64
}

// OpenJournal opens or creates a journal file at path.
func OpenJournal(path string, maxSize int64) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, common.Wrap(common.KindInternal, err, "create journal dir")
		}
	}

	info, err := os.Stat(path)
	var sequence, lastCheckpoint uint64
	if err == nil && info.Size() > 0 {
		sequence, lastCheckpoint, err = readJournalHeader(path)
		if err != nil {
			return nil, err
		}
	} else {
		if err := writeJournalHeaderFresh(path); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "open journal for append")
	}
	info, err = f.Stat()
	if err != nil {
		f.Close()
		return nil, common.Wrap(common.KindInternal, err, "stat journal")
	}

	j := &Journal{
		path:    path,
		file:    f,
		writer:  bufio.NewWriter(f),
		maxSize: maxSize,
	}
	j.sequence.Store(sequence)
	j.lastCheckpoint.Store(lastCheckpoint)
	j.currentSize.Store(info.Size())

	log.WithComponent("block").Info().
		Str("path", path).
		Uint64("sequence", sequence).
		Uint64("last_checkpoint", lastCheckpoint).
		Msg("opened journal")
	return j, nil
}

func writeJournalHeaderFresh(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return common.Wrap(common.KindInternal, err, "create journal file")
	}
	defer f.Close()
	return writeJournalHeader(f, 0, 0)
}

func writeJournalHeader(w io.Writer, sequence, checkpoint uint64) error {
	buf := make([]byte, journalHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], journalMagic)
	binary.LittleEndian.PutUint32(buf[8:12], journalVersion)
	binary.LittleEndian.PutUint64(buf[12:20], sequence)
	binary.LittleEndian.PutUint64(buf[20:28], checkpoint)
	_, err := w.Write(buf)
	return err
}

func readJournalHeader(path string) (sequence, checkpoint uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, common.Wrap(common.KindInternal, err, "open journal header")
	}
	defer f.Close()

	buf := make([]byte, journalHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, 0, common.Wrap(common.KindCorruption, err, "read journal header")
	}
	magic := binary.LittleEndian.Uint64(buf[0:8])
	if magic != journalMagic {
		return 0, 0, common.Corruptionf("invalid journal magic")
	}
	version := binary.LittleEndian.Uint32(buf[8:12])
	if version != journalVersion {
		return 0, 0, common.Corruptionf("unsupported journal version %d", version)
	}
	sequence = binary.LittleEndian.Uint64(buf[12:20])
	checkpoint = binary.LittleEndian.Uint64(buf[20:28])
	return sequence, checkpoint, nil
}

func (j *Journal) append(e JournalEntry) (uint64, error) {
	data := e.serialize()

	j.writerMu.Lock()
	defer j.writerMu.Unlock()
	if _, err := j.writer.Write(data); err != nil {
		return 0, common.Wrap(common.KindInternal, err, "journal write")
	}
	if err := j.writer.Flush(); err != nil {
		return 0, common.Wrap(common.KindInternal, err, "journal flush")
	}
	j.currentSize.Add(int64(len(data)))
	return j.sequence.Add(1), nil
}

// LogWrite records a pending write before it is applied to the cache.
func (j *Journal) LogWrite(volumeId string, chunkId, offset uint64, data []byte) (uint64, error) {
	seq := j.sequence.Load() + 1
	return j.append(newWriteEntry(seq, volumeId, chunkId, offset, data))
}

// LogFlush records that chunkId has been durably flushed to its EC backing.
func (j *Journal) LogFlush(volumeId string, chunkId uint64) (uint64, error) {
	seq := j.sequence.Load() + 1
	return j.append(newFlushEntry(seq, volumeId, chunkId))
}

// Checkpoint marks every prior entry as obsolete for recovery purposes.
func (j *Journal) Checkpoint() (uint64, error) {
	seq := j.sequence.Load() + 1
	result, err := j.append(newCheckpointEntry(seq))
	if err != nil {
		return 0, err
	}
	j.lastCheckpoint.Store(seq)
	return result, nil
}

// Recover replays the journal from just after its header, returning every
// Write entry with sequence greater than the last observed Checkpoint. A
// checksum failure stops recovery at that record; everything after it is
// discarded as torn.
func (j *Journal) Recover() ([]JournalEntry, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, common.Wrap(common.KindInternal, err, "open journal for recovery")
	}
	defer f.Close()

	if _, err := f.Seek(journalHeaderSize, io.SeekStart); err != nil {
		return nil, common.Wrap(common.KindInternal, err, "seek past journal header")
	}

	reader := bufio.NewReader(f)
	var all []JournalEntry
	lastCheckpoint := j.lastCheckpoint.Load()

	for {
		entry, err := deserializeEntry(reader)
		if err != nil {
			break
		}
		if !entry.Verify() {
			log.WithComponent("block").Warn().
				Uint64("sequence", entry.Sequence).
				Msg("journal entry failed checksum, stopping recovery")
			break
		}
		if entry.Type == EntryCheckpoint {
			lastCheckpoint = entry.Sequence
			continue
		}
		all = append(all, entry)
	}

	var writes []JournalEntry
	for _, e := range all {
		if e.Sequence > lastCheckpoint && e.Type == EntryWrite {
			writes = append(writes, e)
		}
	}
	return writes, nil
}

func (j *Journal) NeedsRotation() bool { return j.currentSize.Load() > j.maxSize }

// Rotate replaces the journal file with a fresh one seeded at the current
// sequence, so recovery never has to walk obsolete history.
func (j *Journal) Rotate() error {
	j.writerMu.Lock()
	defer j.writerMu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return common.Wrap(common.KindInternal, err, "flush before rotate")
	}
	if err := j.file.Close(); err != nil {
		return common.Wrap(common.KindInternal, err, "close journal before rotate")
	}

	oldPath := j.path + ".old"
	if err := os.Rename(j.path, oldPath); err != nil {
		return common.Wrap(common.KindInternal, err, "rename journal")
	}

	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return common.Wrap(common.KindInternal, err, "create rotated journal")
	}

	seq := j.sequence.Load()
	if err := writeJournalHeader(f, seq, seq); err != nil {
		f.Close()
		return err
	}

	j.file = f
	j.writer = bufio.NewWriter(f)
	j.lastCheckpoint.Store(seq)
	j.currentSize.Store(journalHeaderSize)

	if err := os.Remove(oldPath); err != nil {
		log.WithComponent("block").Warn().Err(err).Msg("failed to remove rotated journal backup")
	}
	return nil
}

func (j *Journal) Sync() error {
	j.writerMu.Lock()
	defer j.writerMu.Unlock()
	if err := j.writer.Flush(); err != nil {
		return common.Wrap(common.KindInternal, err, "flush journal")
	}
	return j.file.Sync()
}

func (j *Journal) Close() error {
	j.writerMu.Lock()
	defer j.writerMu.Unlock()
	_ = j.writer.Flush()
	return j.file.Close()
}

func (j *Journal) CurrentSequence() uint64 { return j.sequence.Load() }
