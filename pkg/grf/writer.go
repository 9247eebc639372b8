package grf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Faultbox/midgard-vat/pkg/encoding"
)

// File is one entry to pack with Create.
type File struct {
	Name string // UTF-8, either slash direction
	Data []byte
}

// Create writes a GRF 0x200 archive at path containing files. Names are
// stored EUC-KR encoded with backslashes, as the game client expects.
func Create(path string, files []File) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	if err := write(f, files); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func write(w io.WriteSeeker, files []File) error {
	if _, err := w.Write(make([]byte, headerSize)); err != nil {
		return err
	}

	var table bytes.Buffer
	offset := uint32(0) // relative to header end
	for _, file := range files {
		compressed, err := deflate(file.Data)
		if err != nil {
			return fmt.Errorf("compressing %s: %w", file.Name, err)
		}
		// Equal sizes mark a stored entry, so never emit a compressed
		// blob that happens to match the input length.
		if len(compressed) == len(file.Data) {
			compressed = file.Data
		}

		aligned := uint32(len(compressed))
		if aligned%8 != 0 {
			aligned += 8 - aligned%8
		}
		padded := make([]byte, aligned)
		copy(padded, compressed)
		if _, err := w.Write(padded); err != nil {
			return err
		}

		table.Write(encoding.UTF8ToEUCKR(strings.ReplaceAll(file.Name, "/", "\\")))
		table.WriteByte(0)
		_ = binary.Write(&table, binary.LittleEndian, uint32(len(compressed)))
		_ = binary.Write(&table, binary.LittleEndian, aligned)
		_ = binary.Write(&table, binary.LittleEndian, uint32(len(file.Data)))
		table.WriteByte(flagFile)
		_ = binary.Write(&table, binary.LittleEndian, offset)

		offset += aligned
	}

	compressedTable, err := deflate(table.Bytes())
	if err != nil {
		return fmt.Errorf("compressing file table: %w", err)
	}
	sizes := [2]uint32{uint32(len(compressedTable)), uint32(table.Len())}
	if err := binary.Write(w, binary.LittleEndian, sizes); err != nil {
		return err
	}
	if _, err := w.Write(compressedTable); err != nil {
		return err
	}

	header := Header{
		TableOffset: offset,
		FileCount:   uint32(len(files)) + 7,
		Version:     grfVersion,
	}
	copy(header.Magic[:], grfMagic)
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, &header)
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
