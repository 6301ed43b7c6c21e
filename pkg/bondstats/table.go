package bondstats

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zstd"

	"crystalvol/pkg/common"
)

// Table holds the average minimum bond length per bond type.
type Table map[common.BondType]float64

// Keys returns the bond types in sorted order.
func (t Table) Keys() []common.BondType {
	keys := make([]common.BondType, 0, len(t))
	for bt := range t {
		keys = append(keys, bt)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (t Table) Lookup(bt common.BondType) (float64, bool) {
	v, ok := t[bt]
	return v, ok
}

// Clone returns an independent copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// WriteCSV writes the table in bond type order.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"bond_type", "avg_min_distance"}); err != nil {
		return err
	}
	for _, bt := range t.Keys() {
		if err := cw.Write([]string{string(bt), strconv.FormatFloat(t[bt], 'f', 6, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Blob layout: magic[4] | version[1] | zstd(gob(map[string]float64))
var tableMagic = [4]byte{'C', 'V', 'B', 'T'}

const tableVersion = 1

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

// Encode writes t as an opaque blob. An empty table round-trips.
func Encode(w io.Writer, t Table) error {
	enc, _, err := codec()
	if err != nil {
		return err
	}

	raw := make(map[string]float64, len(t))
	for bt, v := range t {
		raw[string(bt)] = v
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(raw); err != nil {
		return fmt.Errorf("encode table: %w", err)
	}

	header := append(tableMagic[:], tableVersion)
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(enc.EncodeAll(buf.Bytes(), nil))
	return err
}

// Decode reads a blob written by Encode into a fresh table.
func Decode(r io.Reader) (Table, error) {
	_, dec, err := codec()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < len(tableMagic)+1 || !bytes.Equal(data[:4], tableMagic[:]) {
		return nil, fmt.Errorf("missing header: %w", common.ErrBadTable)
	}
	if v := data[4]; v != tableVersion {
		return nil, fmt.Errorf("version %d: %w", v, common.ErrBadTable)
	}

	plain, err := dec.DecodeAll(data[5:], nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %v: %w", err, common.ErrBadTable)
	}
	var raw map[string]float64
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %v: %w", err, common.ErrBadTable)
	}

	t := make(Table, len(raw))
	for k, v := range raw {
		t[common.BondType(k)] = v
	}
	return t, nil
}

// Save writes t to path, replacing any previous file.
func (t Table) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := Encode(w, t); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a table saved with Save.
func Load(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}
