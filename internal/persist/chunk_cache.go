package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/voxsim/server/internal/terrain"
	"github.com/voxsim/server/internal/voxel"
)

var _ terrain.Cache = (*ChunkCache)(nil)

// ChunkCache keeps generated chunks in a local SQLite file so a restart
// does not regenerate terrain. Rows are keyed by the generator parameters;
// changing any of them misses the old rows.
type ChunkCache struct {
	db     *sql.DB
	seed   int64
	depth  int
	params string
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	log    *zap.Logger
}

func OpenChunkCache(path string, cfg voxel.Config, log *zap.Logger) (*ChunkCache, error) {
	if path == "" {
		return nil, fmt.Errorf("empty cache path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initCachePragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initCacheSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, err
	}

	return &ChunkCache{
		db:     db,
		seed:   cfg.Seed,
		depth:  int(cfg.Depth),
		params: generatorParams(cfg),
		enc:    enc,
		dec:    dec,
		log:    log,
	}, nil
}

func generatorParams(cfg voxel.Config) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return f(cfg.BaseHeight) + "/" + f(cfg.Amplitude) + "/" + f(cfg.Frequency) + "/" +
		strconv.FormatUint(uint64(cfg.SeamlessSize), 10)
}

func initCachePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initCacheSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		seed INTEGER NOT NULL,
		depth INTEGER NOT NULL,
		params TEXT NOT NULL,
		kx INTEGER NOT NULL,
		ky INTEGER NOT NULL,
		kz INTEGER NOT NULL,
		size INTEGER NOT NULL,
		mode INTEGER NOT NULL,
		voxels BLOB NOT NULL,
		PRIMARY KEY (seed, depth, params, kx, ky, kz)
	);`)
	return err
}

func (c *ChunkCache) Get(ctx context.Context, key voxel.Key) (*voxel.Chunk, bool, error) {
	var (
		size, mode int
		blob       []byte
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT size, mode, voxels FROM chunks
		 WHERE seed = ? AND depth = ? AND params = ? AND kx = ? AND ky = ? AND kz = ?`,
		c.seed, c.depth, c.params, key[0], key[1], key[2],
	).Scan(&size, &mode, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("chunk cache get %v: %w", key, err)
	}

	voxels, err := c.dec.DecodeAll(blob, make([]uint8, 0, size*size*size))
	if err != nil {
		return nil, false, fmt.Errorf("chunk cache decode %v: %w", key, err)
	}
	if len(voxels) != size*size*size {
		c.log.Warn("區塊快取資料長度錯誤，重新生成", zap.Any("key", key), zap.Int("len", len(voxels)))
		return nil, false, nil
	}
	return &voxel.Chunk{Key: key, Size: size, Voxels: voxels, Mode: voxel.Mode(mode)}, true, nil
}

func (c *ChunkCache) Put(ctx context.Context, ch *voxel.Chunk) error {
	blob := c.enc.EncodeAll(ch.Voxels, nil)
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chunks (seed, depth, params, kx, ky, kz, size, mode, voxels)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.seed, c.depth, c.params, ch.Key[0], ch.Key[1], ch.Key[2], ch.Size, int(ch.Mode), blob,
	)
	if err != nil {
		return fmt.Errorf("chunk cache put %v: %w", ch.Key, err)
	}
	return nil
}

// Len returns the number of cached chunks for the current generator.
func (c *ChunkCache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE seed = ? AND depth = ? AND params = ?`,
		c.seed, c.depth, c.params,
	).Scan(&n)
	return n, err
}

func (c *ChunkCache) Close() error {
	c.dec.Close()
	_ = c.enc.Close()
	return c.db.Close()
}
