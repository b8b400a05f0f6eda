// Command idxshell is an interactive, offline shell for poking at a
// single B-tree index directly -- no server, no SQL layer -- the
// equivalent of an InnoDB page-dump tool for this engine. It is meant for
// debugging and validating the on-disk structure, not for application
// use.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tuannm99/novasql/internal/btreeidx"
	"github.com/tuannm99/novasql/internal/bufferpool"
	"github.com/tuannm99/novasql/internal/config"
	"github.com/tuannm99/novasql/internal/storage"
	"github.com/tuannm99/novasql/internal/wal"
)

// ---- History (own file, same shape as cmd/client) ----

type History struct {
	path  string
	lines []string
}

func NewHistory(path string) *History { return &History{path: path} }

func (h *History) Load(max int) error {
	if h.path == "" {
		return nil
	}
	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		h.lines = append(h.lines, s)
		if max > 0 && len(h.lines) > max {
			h.lines = h.lines[len(h.lines)-max:]
		}
	}
	return sc.Err()
}

func (h *History) Append(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || h.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := fmt.Fprintln(f, cmd); err != nil {
		return err
	}
	h.lines = append(h.lines, cmd)
	return nil
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".idxshell_history"
	}
	return filepath.Join(home, ".idxshell_history")
}

// ---- shell ----

type shell struct {
	tree *btreeidx.Tree
	gp   *bufferpool.GlobalPool
}

func (s *shell) dispatch(line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "\\q", "quit", "exit":
		return true
	case "\\help", "help":
		printHelp()
	case "insert":
		s.cmdInsert(args)
	case "delete":
		s.cmdDelete(args)
	case "find":
		s.cmdFind(args)
	case "range":
		s.cmdRange(args)
	case "validate":
		s.cmdValidate()
	case "stats":
		s.cmdStats(args)
	case "pins":
		s.cmdPins()
	case "drop":
		s.cmdDrop()
	default:
		fmt.Printf("unknown command: %s (try \\help)\n", cmd)
	}
	return false
}

func (s *shell) cmdInsert(args []string) {
	if len(args) != 3 {
		fmt.Println("usage: insert <key> <pageID> <slot>")
		return
	}
	pageID, err := parseUint32(args[1])
	if err != nil {
		fmt.Printf("bad pageID: %v\n", err)
		return
	}
	slot, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		fmt.Printf("bad slot: %v\n", err)
		return
	}
	rid := btreeidx.RID{PageID: pageID, Slot: uint16(slot)}
	if err := s.tree.Insert([]byte(args[0]), rid); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (s *shell) cmdDelete(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: delete <key>")
		return
	}
	if err := s.tree.Delete([]byte(args[0])); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func (s *shell) cmdFind(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: find <key>")
		return
	}
	rids, err := s.tree.SearchEqual([]byte(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if len(rids) == 0 {
		fmt.Println("(not found)")
		return
	}
	for _, r := range rids {
		fmt.Printf("page=%d slot=%d\n", r.PageID, r.Slot)
	}
}

func (s *shell) cmdRange(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: range <minKey> <maxKey>")
		return
	}
	rids, err := s.tree.RangeScan([]byte(args[0]), []byte(args[1]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	for _, r := range rids {
		fmt.Printf("page=%d slot=%d\n", r.PageID, r.Slot)
	}
	fmt.Printf("(%d rows)\n", len(rids))
}

func (s *shell) cmdValidate() {
	if err := s.tree.Validate(); err != nil {
		fmt.Printf("INVALID: %v\n", err)
		return
	}
	fmt.Println("OK: index is structurally valid")
}

func (s *shell) cmdStats(args []string) {
	fmt.Printf("root=%d height=%d indexID=%d\n", s.tree.RootPage, s.tree.Height, s.tree.IndexID)
	if len(args) == 1 {
		avgKeyLen, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Println("usage: stats [avgKeyLen]")
			return
		}
		fmt.Printf("estimated leaf capacity at avgKeyLen=%d: %d entries\n",
			avgKeyLen, s.tree.EstimatedLeafCapacity(avgKeyLen))
	}
}

func (s *shell) cmdPins() {
	fmt.Printf("pinned=%d\n", s.tree.BP.PinnedPages())
	if s.gp != nil {
		evictable, capacity := s.gp.Occupancy()
		fmt.Printf("pool: %d/%d frames evictable\n", evictable, capacity)
	}
}

func (s *shell) cmdDrop() {
	if err := s.tree.Drop(); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println("OK: index dropped")
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func printHelp() {
	fmt.Println(`commands:
  insert <key> <pageID> <slot>   insert a (key, rid) pair
  delete <key>                   delete every entry under key
  find <key>                     list RIDs stored under key
  range <minKey> <maxKey>        list RIDs in [minKey, maxKey]
  validate                       run the structural validator
  stats [avgKeyLen]              print root/height/indexID, optionally estimated leaf capacity
  pins                           print how many of this index's pages are still pinned
  drop                           close the tree and remove its on-disk segments
  \q | quit | exit               quit`)
}

func main() {
	var (
		cfgPath  = flag.String("config", "", "path to a YAML config file (optional)")
		dataDir  = flag.String("data-dir", "", "override data_dir from config")
		walDir   = flag.String("wal-dir", "", "override wal_dir from config")
		base     = flag.String("index", "idx0", "index base filename")
		indexID  = flag.Uint("index-id", 1, "index id")
		histPath = flag.String("history", defaultHistoryPath(), "history file path")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *walDir != "" {
		cfg.WALDir = *walDir
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir data dir: %v\n", err)
		os.Exit(1)
	}

	sm := storage.NewStorageManager()
	fs := storage.LocalFileSet{Dir: cfg.DataDir, Base: *base}
	gp := bufferpool.NewGlobalPool(sm, cfg.BufferPoolFrames)
	bp := gp.View(fs)

	w, err := wal.Open(cfg.WALDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wal: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = w.Close() }()

	n, err := sm.CountPages(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "count pages: %v\n", err)
		os.Exit(1)
	}

	var tree *btreeidx.Tree
	if n == 0 {
		tree, err = btreeidx.New(sm, fs, bp, w, uint32(*indexID))
	} else {
		tree, err = btreeidx.Open(sm, fs, bp, w, uint32(*indexID))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "open index: %v\n", err)
		os.Exit(1)
	}
	tree.PanicOnCorruption = cfg.PanicOnCorruption
	defer func() { _ = tree.Close() }()

	if err := tree.Recover(); err != nil {
		fmt.Fprintf(os.Stderr, "recover: %v\n", err)
		os.Exit(1)
	}

	h := NewHistory(*histPath)
	_ = h.Load(2000)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "idx> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rl.Close() }()
	for _, line := range h.lines {
		_ = rl.SaveHistory(line)
	}

	s := &shell{tree: tree, gp: gp}
	fmt.Printf("idxshell: %s/%s (type \\help for help)\n", cfg.DataDir, *base)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			fmt.Println("^C")
			continue
		}
		if err != nil {
			fmt.Println()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		_ = h.Append(line)
		_ = rl.SaveHistory(line)
		if s.dispatch(line) {
			return
		}
	}
}
