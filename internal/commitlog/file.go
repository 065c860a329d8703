package commitlog

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"
)

// .slcl commit log file layout: 16-byte header (magic, version, mutation
// count, payload CRC32) followed by the JSON-encoded batch.
const (
	fileMagic     uint32 = 0x534C434C
	fileVersion   uint32 = 1
	fileHeaderLen        = 16
)

// FileSink writes each commit batch to its own log file in dir, using a
// .tmp write plus rename so readers never observe a torn batch. bufSize is
// the advisory page-size parameter; it only tunes the write buffer.
type FileSink struct {
	dir     string
	bufSize int
}

// NewFileSink creates the log directory if needed.
func NewFileSink(dir string, bufSize int) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating commit log directory: %w", err)
	}
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &FileSink{dir: dir, bufSize: bufSize}, nil
}

func (s *FileSink) Publish(ctx context.Context, batch Batch) error {
	name := fmt.Sprintf("commit_%d.slcl", time.Now().UnixNano())
	finalPath := filepath.Join(s.dir, name)
	tmpPath := finalPath + ".tmp"

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshaling commit batch: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating commit log file: %w", err)
	}
	defer f.Close()

	header := make([]byte, fileHeaderLen)
	binary.LittleEndian.PutUint32(header[0:4], fileMagic)
	binary.LittleEndian.PutUint32(header[4:8], fileVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(batch.Mutations)))
	binary.LittleEndian.PutUint32(header[12:16], crc32.ChecksumIEEE(payload))

	w := bufio.NewWriterSize(f, s.bufSize)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing commit log header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing commit log payload: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing commit log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing commit log: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming commit log file: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	return nil
}

// ReadFile parses one commit log file, verifying magic, version, and
// checksum.
func ReadFile(path string) (Batch, error) {
	var batch Batch
	data, err := os.ReadFile(path)
	if err != nil {
		return batch, fmt.Errorf("reading commit log file: %w", err)
	}
	if len(data) < fileHeaderLen {
		return batch, fmt.Errorf("commit log file %s truncated", path)
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != fileMagic {
		return batch, fmt.Errorf("commit log file %s: bad magic %x", path, magic)
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != fileVersion {
		return batch, fmt.Errorf("commit log file %s: unsupported version %d", path, version)
	}
	payload := data[fileHeaderLen:]
	if sum := crc32.ChecksumIEEE(payload); sum != binary.LittleEndian.Uint32(data[12:16]) {
		return batch, fmt.Errorf("commit log file %s: checksum mismatch", path)
	}
	if err := json.Unmarshal(payload, &batch); err != nil {
		return batch, fmt.Errorf("parsing commit log file %s: %w", path, err)
	}
	if int(binary.LittleEndian.Uint32(data[8:12])) != len(batch.Mutations) {
		return batch, fmt.Errorf("commit log file %s: mutation count mismatch", path)
	}
	return batch, nil
}
