// Command dsqlctl is a diagnostic tool over the engine package: open a
// database, print its stats, force a checkpoint, or dump a page-by-page
// summary. It adds no SQL semantics of its own (spec §1 excludes a CLI
// shell) — the *pattern* of a small inspection binary is grounded on the
// teacher's cmd/tinysqlpage and cmd/sqltools (flag.NewFlagSet per
// subcommand, log.Fatalf on a fatal error) and its page-dump output is
// grounded on the teacher's pager/inspect.go PageInfo/DumpTree.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dsqlcore/dsqlite/internal/dsqlconfig"
	"github.com/dsqlcore/dsqlite/internal/engine"
	"github.com/dsqlcore/dsqlite/internal/page"
	"github.com/dsqlcore/dsqlite/internal/pager"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dsqlctl <stats|checkpoint|dump> [-config path] <db-file>")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to a dsqlconfig YAML file (default: compiled-in defaults)")
	fs.Parse(os.Args[2:])

	args := fs.Args()
	if len(args) != 1 {
		usage()
	}
	dbPath := args[0]

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	switch cmd {
	case "stats":
		runStats(dbPath, cfg)
	case "checkpoint":
		runCheckpoint(dbPath, cfg)
	case "dump":
		runDump(dbPath, cfg)
	default:
		usage()
	}
}

func loadConfig(path string) (*dsqlconfig.Config, error) {
	if path == "" {
		return dsqlconfig.Default(), nil
	}
	return dsqlconfig.Load(path)
}

func runStats(dbPath string, cfg *dsqlconfig.Config) {
	e, err := engine.Open(dbPath, cfg)
	if err != nil {
		log.Fatalf("open %s: %v", dbPath, err)
	}
	defer e.Close()

	s := e.Stats()
	fmt.Printf("page_count:           %d\n", s.PageCount)
	fmt.Printf("page_size:            %d\n", s.PageSize)
	fmt.Printf("root_page:            %d\n", s.RootPage)
	fmt.Printf("threshold_mode:       %s\n", s.ThresholdMode)
	fmt.Printf("wal_frames:           %d\n", s.WALFrames)
	fmt.Printf("wal_needs_checkpoint: %v\n", s.WALNeedsCheckpoint)
	fmt.Printf("in_transaction:       %v\n", s.InTransaction)
}

func runCheckpoint(dbPath string, cfg *dsqlconfig.Config) {
	e, err := engine.Open(dbPath, cfg)
	if err != nil {
		log.Fatalf("open %s: %v", dbPath, err)
	}
	defer e.Close()

	needed := e.Stats().WALNeedsCheckpoint
	pagesWritten, err := e.Checkpoint()
	if err != nil {
		log.Fatalf("checkpoint: %v", err)
	}
	fmt.Printf("checkpoint complete (was needed: %v, pages_written: %d)\n", needed, pagesWritten)
}

// runDump prints a one-line summary of every page in the file: its type,
// cell count, free space, and right_child field (the right child on
// interior pages, the next-leaf pointer on leaves). It reads pages directly through the pager rather than the
// B+Tree, so it still works on a structurally damaged tree.
func runDump(dbPath string, cfg *dsqlconfig.Config) {
	p, err := pager.Open(pager.Config{Path: dbPath, PageSize: cfg.PageSize, CacheSize: cfg.CacheSize})
	if err != nil {
		log.Fatalf("open %s: %v", dbPath, err)
	}
	defer p.Close()

	fmt.Printf("root_page: %d, page_count: %d\n\n", p.RootPage(), p.PageCount())

	for id := pager.PageID(2); uint32(id) <= p.PageCount(); id++ {
		buf, err := p.ReadPage(id)
		if err != nil {
			fmt.Printf("page %d: read error: %v\n", id, err)
			continue
		}
		pg := page.Wrap(buf)
		typeName := pageTypeName(pg.Type())
		fmt.Printf("page %-6d type=%-9s cells=%-5d free=%-6d right_child=%d\n",
			id, typeName, pg.CellCount(), pg.FreeSpace(), pg.RightChild())
	}
}

func pageTypeName(t page.Type) string {
	switch t {
	case page.TypeLeaf:
		return "leaf"
	case page.TypeInterior:
		return "interior"
	case page.TypeOverflow:
		return "overflow"
	case page.TypeFree:
		return "free"
	default:
		return "header"
	}
}
