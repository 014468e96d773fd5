// Command fctinspect is a small diagnostic tool for exercising a file
// content table from the command line: record a file, probe it, or dump
// the stats of a persisted table.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/buildbuddy-io/filecontenttable/fct"
	"github.com/buildbuddy-io/filecontenttable/internal/log"
)

var (
	tablePath  = flag.String("table", "", "path to the persisted table file")
	defaultTTL = flag.Int("default_ttl", int(fct.DefaultTTLCeiling), "default generational TTL for entries")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s -table=<path> <record|probe|stats> [file]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	flag.Parse()
	if *tablePath == "" || flag.NArg() < 1 {
		usage()
	}

	algo := fct.Blake3Hasher{}.Algorithm()
	table := fct.LoadOrCreate(*tablePath, algo, uint16(*defaultTTL))

	switch flag.Arg(0) {
	case "record":
		if flag.NArg() != 2 {
			usage()
		}
		recordFile(table, flag.Arg(1))
	case "probe":
		if flag.NArg() != 2 {
			usage()
		}
		probeFile(table, flag.Arg(1))
	case "stats":
		printStats(table)
		return
	default:
		usage()
	}

	if err := fct.Save(table, *tablePath, algo); err != nil {
		log.Fatalf("fctinspect: saving %q: %s", *tablePath, err)
	}
}

func recordFile(table *fct.Table, path string) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	writable := true
	if err != nil {
		f, err = os.Open(path)
		writable = false
	}
	if err != nil {
		log.Fatalf("fctinspect: opening %q: %s", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		log.Fatalf("fctinspect: stat %q: %s", path, err)
	}

	hash, err := fct.Blake3Hasher{}.Hash(f)
	if err != nil {
		log.Fatalf("fctinspect: hashing %q: %s", path, err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		log.Fatalf("fctinspect: rewinding %q: %s", path, err)
	}

	id, version := table.Record(path, f, writable, hash, info.Size(), nil)
	fmt.Printf("recorded %q: volume=%d version=%d strong=%v\n", path, id.VolumeID, version.Value, version.Strong)
}

func probeFile(table *fct.Table, path string) {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("fctinspect: opening %q: %s", path, err)
	}
	defer f.Close()

	result, ok := table.Probe(path, f)
	if !ok {
		fmt.Printf("miss: %q\n", path)
		return
	}
	fmt.Printf("hit: %q version=%d length=%d\n", path, result.Version.Value, result.Length)
}

func printStats(table *fct.Table) {
	s := table.Stats()
	fmt.Printf("entries=%d hit=%d file_id_mismatch=%d usn_mismatch=%d content_mismatch=%d "+
		"evicted=%d updated_by_scan=%d removed_by_scan=%d\n",
		s.NumEntries, s.NumHit, s.NumFileIDMismatch, s.NumUSNMismatch, s.NumContentMismatch,
		s.NumEvicted, s.NumUpdatedByScan, s.NumRemovedByScan)
}
