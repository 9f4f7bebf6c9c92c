package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/voxsim/server/internal/snapshot"
	"github.com/voxsim/server/internal/voxel"
)

func main() {
	headerOnly := flag.Bool("header", false, "print only the header line")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: snapinspect [-header] <snapshot.zst>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	failed := false
	for _, path := range flag.Args() {
		if err := inspect(path, *headerOnly); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func inspect(path string, headerOnly bool) error {
	if headerOnly {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s  v%d run=%s tick=%d players=%d chunks=%d colliders=%d at=%s\n",
			path, h.Version, h.RunID, h.Tick, h.Players, h.Chunks, h.Colliders, h.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	}

	h, res, err := snapshot.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", path)
	fmt.Printf("  run        %s\n", h.RunID)
	fmt.Printf("  created    %s\n", h.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  tick       %d (frames %d)\n", res.Tick, res.Frames)
	fmt.Printf("  queued     %d events, %d saved\n", len(res.Events), len(res.SavedEvents))
	fmt.Printf("  chunks     %d\n", len(res.Chunks))
	fmt.Printf("  colliders  %d\n", len(res.ColliderHandles))

	fmt.Printf("  players    %d\n", len(res.Players))
	for _, p := range res.Players {
		fmt.Printf("    %-12s pos=(%.2f, %.2f, %.2f) key=%v held=%d\n",
			p.Config.PeerID, p.Pos[0], p.Pos[1], p.Pos[2], p.Config.CurKey, len(p.KeyEvents.Events))
	}

	modes := map[voxel.Mode]int{}
	for _, c := range res.Chunks {
		modes[c.Mode]++
	}
	keys := make([]voxel.Mode, 0, len(modes))
	for m := range modes {
		keys = append(keys, m)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, m := range keys {
		fmt.Printf("    mode %-6s %d\n", modeName(m), modes[m])
	}
	return nil
}

func modeName(m voxel.Mode) string {
	switch m {
	case voxel.ModeEmpty:
		return "empty"
	case voxel.ModeFull:
		return "full"
	default:
		return "mixed"
	}
}
