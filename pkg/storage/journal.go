package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"crystalvol/pkg/common"
)

// [CRC32 4B] [Timestamp 8B] [MinDistance 8B] [Count 4B] [BondLen 2B] [SrcLen 2B] [Bond] [Src]

const (
	HeaderSize = 4 + 8 + 8 + 4 + 2 + 2 // 28 Bytes
)

var ErrJournalCorrupt = errors.New("journal: corrupted record")

// Journal is an append-only log of bond observations. Replaying it rebuilds
// the observation lists a fit produced.
type Journal struct {
	file *os.File
	mu   sync.Mutex
	buf  *bufio.Writer
}

func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &Journal{
		file: f,
		buf:  bufio.NewWriter(f),
	}, nil
}

func (j *Journal) Append(bt common.BondType, obs common.BondObservation) error {
	bond, src := []byte(bt), []byte(obs.SourceID)
	if len(bond) > math.MaxUint16 || len(src) > math.MaxUint16 {
		return errors.New("journal: key too long")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(header[4:12], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint64(header[12:20], math.Float64bits(obs.MinDistance))
	binary.LittleEndian.PutUint32(header[20:24], uint32(obs.NeighborCount))
	binary.LittleEndian.PutUint16(header[24:26], uint16(len(bond)))
	binary.LittleEndian.PutUint16(header[26:28], uint16(len(src)))

	checksum := crc32.NewIEEE()
	checksum.Write(header[12:])
	checksum.Write(bond)
	checksum.Write(src)
	binary.LittleEndian.PutUint32(header[0:4], checksum.Sum32())

	if _, err := j.buf.Write(header); err != nil {
		return err
	}
	if _, err := j.buf.Write(bond); err != nil {
		return err
	}
	if _, err := j.buf.Write(src); err != nil {
		return err
	}
	return j.buf.Flush()
}

func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buf.Flush()
	return j.file.Close()
}

// Truncate drops every record, typically before a fresh fit.
func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return err
	}
	path := j.file.Name()
	if err := j.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	j.file = f
	j.buf = bufio.NewWriter(f)
	return j.file.Sync()
}

func (j *Journal) Size() (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return 0, err
	}
	st, err := j.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// JournalIterator reads records in append order; Next returns io.EOF at the end.
type JournalIterator struct {
	reader *bufio.Reader
	file   *os.File
}

func (j *Journal) NewIterator() (*JournalIterator, error) {
	if err := j.Sync(); err != nil {
		return nil, err
	}
	f, err := os.Open(j.file.Name())
	if err != nil {
		return nil, err
	}
	return &JournalIterator{
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

func (it *JournalIterator) Next() (common.BondType, common.BondObservation, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(it.reader, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return "", common.BondObservation{}, ErrJournalCorrupt
		}
		return "", common.BondObservation{}, err
	}

	storedCRC := binary.LittleEndian.Uint32(header[0:4])
	minDist := math.Float64frombits(binary.LittleEndian.Uint64(header[12:20]))
	count := binary.LittleEndian.Uint32(header[20:24])
	bondLen := binary.LittleEndian.Uint16(header[24:26])
	srcLen := binary.LittleEndian.Uint16(header[26:28])

	body := make([]byte, int(bondLen)+int(srcLen))
	if _, err := io.ReadFull(it.reader, body); err != nil {
		return "", common.BondObservation{}, ErrJournalCorrupt
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[12:])
	checksum.Write(body)
	if checksum.Sum32() != storedCRC {
		return "", common.BondObservation{}, errors.New("journal: crc mismatch")
	}

	obs := common.BondObservation{
		MinDistance:   minDist,
		NeighborCount: int(count),
		SourceID:      string(body[bondLen:]),
	}
	return common.BondType(body[:bondLen]), obs, nil
}

func (it *JournalIterator) Close() {
	it.file.Close()
}
