package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/voxsim/server/internal/sim"
)

const Version = 1

// Header is written as one JSON line ahead of the gob payload so tools
// can list snapshots without decoding the world.
type Header struct {
	Version   int       `json:"version"`
	RunID     uuid.UUID `json:"run_id"`
	Tick      uint64    `json:"tick"`
	Players   int       `json:"players"`
	Chunks    int       `json:"chunks"`
	Colliders int       `json:"colliders"`
	CreatedAt time.Time `json:"created_at"`
}

// NewHeader summarises res.
func NewHeader(runID uuid.UUID, res *sim.Result) Header {
	return Header{
		Version:   Version,
		RunID:     runID,
		Tick:      res.Tick,
		Players:   len(res.Players),
		Chunks:    len(res.Chunks),
		Colliders: len(res.ColliderHandles),
		CreatedAt: time.Now().UTC(),
	}
}

// Encode writes a zstd stream holding the header line and the gob result.
func Encode(w io.Writer, h Header, res *sim.Result) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(h)
	if err != nil {
		enc.Close()
		return fmt.Errorf("header encode: %w", err)
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(res); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Decode reads a stream written by Encode.
func Decode(r io.Reader) (Header, *sim.Result, error) {
	var h Header
	dec, err := zstd.NewReader(r)
	if err != nil {
		return h, nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, nil, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, nil, fmt.Errorf("header decode: %w", err)
	}
	if h.Version != Version {
		return h, nil, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	res := new(sim.Result)
	if err := gob.NewDecoder(br).Decode(res); err != nil {
		return h, nil, fmt.Errorf("gob decode: %w", err)
	}
	return h, res, nil
}

// Marshal encodes into memory, e.g. for a database row.
func Marshal(h Header, res *sim.Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, h, res); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte) (Header, *sim.Result, error) {
	return Decode(bytes.NewReader(data))
}

func WriteFile(path string, h Header, res *sim.Result) error {
	data, err := Marshal(h, res)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// writeAtomic writes through a temp file so readers never see a partial snapshot.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func ReadFile(path string) (Header, *sim.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()
	return Decode(f)
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header decode: %w", err)
	}
	return h, nil
}

// FileName is the snapshot file name for a tick.
func FileName(tick uint64) string {
	return fmt.Sprintf("snap-%012d.zst", tick)
}
