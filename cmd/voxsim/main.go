package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/voxsim/server/internal/bridge"
	"github.com/voxsim/server/internal/config"
	"github.com/voxsim/server/internal/data"
	"github.com/voxsim/server/internal/persist"
	"github.com/voxsim/server/internal/physics"
	"github.com/voxsim/server/internal/scripting"
	"github.com/voxsim/server/internal/sim"
	"github.com/voxsim/server/internal/snapshot"
	"github.com/voxsim/server/internal/terrain"
	"github.com/voxsim/server/internal/voxel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              voxsim  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m         體素物理模擬 · Go 伺服器          \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

// displayWidth counts CJK runes as two columns.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r > 0x7F {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func printSection(title string) {
	lineLen := max(46-displayWidth(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := max(42-displayWidth(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfg, err := config.Load(config.Path("config/server.toml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := uuid.New()
	log = log.With(zap.String("run", runID.String()))

	// 3. Optional PostgreSQL: event journal and snapshot store
	printSection("資料庫")
	var (
		journal  *persist.JournalWriter
		recorder sim.Recorder
		store    snapshot.Store
		snaps    snapshotSource
		events   journalSource
	)
	if cfg.Database.Enabled {
		dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		db, err := persist.NewDB(dbCtx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL 連線成功")

		version, err := persist.RunMigrations(dbCtx, db.Pool)
		cancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK(fmt.Sprintf("資料庫遷移完成 (版本 %d)", version))

		journalRepo := persist.NewJournalRepo(db)
		snapshotRepo := persist.NewSnapshotRepo(db)
		journal = persist.NewJournalWriter(journalRepo, runID,
			cfg.Database.JournalBatch, cfg.Database.JournalFlush, log.Named("journal"))
		recorder = journal
		store = snapshotRepo
		snaps = snapshotRepo
		events = journalRepo
	} else {
		printOK("資料庫已停用，事件日誌不記錄")
	}
	fmt.Println()

	// 4. Terrain generation and chunk cache
	printSection("地形")
	voxCfg := voxel.Config{
		Depth:        cfg.Terrain.Depth,
		Lod:          cfg.Terrain.Lod,
		SeamlessSize: cfg.Terrain.SeamlessSize,
		Seed:         cfg.Terrain.Seed,
		BaseHeight:   cfg.Terrain.BaseHeight,
		Amplitude:    cfg.Terrain.Amplitude,
		Frequency:    cfg.Terrain.Frequency,
	}
	var cache terrain.Cache
	if cfg.Terrain.CachePath != "" {
		cc, err := persist.OpenChunkCache(cfg.Terrain.CachePath, voxCfg, log.Named("cache"))
		if err != nil {
			return fmt.Errorf("chunk cache: %w", err)
		}
		defer cc.Close()
		cache = cc
		if n, err := cc.Len(ctx); err == nil {
			printStat("快取區塊", n)
		}
	}
	terr := terrain.New(voxel.NewNoiseGenerator(voxCfg), terrain.Config{
		Workers:     cfg.Terrain.Workers,
		ChannelSize: cfg.Terrain.ChannelSize,
		Timeout:     cfg.Simulation.TerrainTimeout,
	}, cache, log.Named("terrain"))
	printStat("區塊邊長", voxCfg.Size())
	printStat("生成執行緒", int(cfg.Terrain.Workers))
	fmt.Println()

	// 5. Scripts and data tables
	printSection("資料載入")
	engine, err := scripting.NewEngine(cfg.Scripting.Dir, log.Named("lua"))
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	defer engine.Close()
	printOK("Lua 腳本載入完成")

	keys, err := data.LoadKeyBindings(cfg.Data.KeyBindings)
	if err != nil {
		return fmt.Errorf("key bindings: %w", err)
	}
	printOK("按鍵對應載入完成")

	var scenario *data.Scenario
	if cfg.Data.Scenario != "" {
		scenario, err = data.LoadScenario(cfg.Data.Scenario)
		if err != nil {
			return fmt.Errorf("scenario: %w", err)
		}
		printStat("腳本事件", scenario.Len())
	}
	fmt.Println()

	// 6. Simulation
	params := physics.DefaultIntegrationParameters()
	params.Dt = cfg.Simulation.DT
	m := sim.New(physics.NewWorld(cfg.Simulation.Gravity, params), terr, sim.Options{
		Seamless:        cfg.Terrain.SeamlessSize,
		Character:       sim.Character{Depth: cfg.Character.Depth, Radius: cfg.Character.Radius},
		MoveEffort:      cfg.Simulation.MoveEffort,
		TerrainFriction: cfg.Simulation.TerrainFriction,
		Keys:            keys,
		Effort:          engine,
		Recorder:        recorder,
	}, log.Named("sim"))
	defer m.Close()

	if from := cfg.Simulation.RestoreFrom; from != "" {
		r, err := restoreState(ctx, m, from, snaps, events, log)
		if err != nil {
			return err
		}
		printStat("還原 tick", int(r.Header.Tick))
		printStat("重播事件", r.Replayed)
	}

	var (
		sink        sim.SnapshotSink
		snapshotter *sim.Snapshotter
	)
	if cfg.Simulation.SnapshotDir != "" || store != nil {
		sink = &snapshot.Sink{
			Dir:          cfg.Simulation.SnapshotDir,
			Store:        store,
			RunID:        runID,
			Log:          log.Named("snapshot"),
			StoreTimeout: cfg.Simulation.SnapshotTimeout,
		}
		snapshotter = sim.NewSnapshotter(sink, 2, cfg.Simulation.SnapshotTimeout, log.Named("snapshot"))
	}

	br := bridge.New(cfg.Simulation.InputQueueSize, cfg.Simulation.OutputQueueSize, log.Named("bridge"))
	host := bridge.NewHost(br, log.Named("host"))
	worker := sim.NewWorker(m, br, sim.WorkerConfig{
		TickRate:      cfg.Simulation.TickRate,
		SnapshotEvery: cfg.Simulation.SnapshotEvery,
	}, workerSink(snapshotter), log.Named("worker"))

	printSection("伺服器就緒")
	printReady(fmt.Sprintf("模擬迴圈啟動 (tick: %s, dt: %.4f)", cfg.Simulation.TickRate, cfg.Simulation.DT))
	printReady(fmt.Sprintf("主機迴圈啟動 (frame: %s)", cfg.Host.FrameRate))
	fmt.Println()

	// 7. Run worker, journal, snapshots and host until a signal or the host closes input
	// Writers outlive the worker so everything it recorded is flushed.
	writersCtx, stopWriters := context.WithCancel(context.Background())
	defer stopWriters()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopWriters()
		err := worker.Run(gctx)
		if errors.Is(err, sim.ErrInputClosed) {
			return nil
		}
		return err
	})
	if journal != nil {
		g.Go(func() error { return journal.Run(writersCtx) })
	}
	if snapshotter != nil {
		g.Go(func() error { return snapshotter.Run(writersCtx) })
	}
	start := m.Tick()
	g.Go(func() error {
		return runHost(gctx, host, br, scenario, start, cfg.Host.FrameRate, log.Named("host"))
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if sink != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := sink.SaveSnapshot(saveCtx, m.ProcessResult()); err != nil {
			log.Error("最終快照寫入失敗", zap.Error(err))
		}
		cancel()
	}

	st := m.Stats()
	log.Info("伺服器已停止",
		zap.Uint64("tick", m.Tick()),
		zap.Uint64("spawned", st.Spawned),
		zap.Uint64("despawned", st.Despawned),
		zap.Uint64("crossings", st.Crossings),
		zap.Uint64("batches", st.Batches),
		zap.Uint64("stale", st.StaleEvents),
		zap.Uint64("dropped_outputs", br.Dropped()),
		zap.Uint64("frames", m.Frames()),
		zap.Int("queued", m.Queued()),
	)
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

// workerSink avoids handing the worker a typed nil.
func workerSink(s *sim.Snapshotter) sim.SnapshotSink {
	if s == nil {
		return nil
	}
	return s
}
