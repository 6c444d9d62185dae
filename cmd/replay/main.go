package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"realmsync.ai/internal/persistence/journal"
)

func main() {
	var (
		dir     = flag.String("dir", "", "journal dir containing <prefix>-*.jsonl.zst")
		prefix  = flag.String("prefix", "", "only read files starting with this prefix (client, server)")
		session = flag.String("session", "", "only count entries for this session id")
		verbose = flag.Bool("v", false, "print every entry")
	)
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "missing -dir")
		os.Exit(2)
	}

	files, err := journal.Files(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}

	counts := map[string]int{}
	sessions := map[string]struct{}{}
	var total, skipped, read int
	var lastSeq uint64
	var regressions int
	for _, path := range files {
		if *prefix != "" && !strings.HasPrefix(filepath.Base(path), *prefix+"-") {
			continue
		}
		read++
		n, err := journal.ReadFile(path, func(e journal.Entry) error {
			if *session != "" && e.Session != *session {
				return nil
			}
			total++
			counts[e.Kind]++
			if e.Session != "" {
				sessions[e.Session] = struct{}{}
			}
			// Accepted sequence numbers only ever grow within one session.
			if *session != "" && e.Kind == journal.KindCmdAccepted {
				if e.Seq <= lastSeq {
					regressions++
				}
				lastSeq = e.Seq
			}
			if *verbose {
				fmt.Printf("%d %-16s session=%s seq=%d code=%s zone=%s reason=%s text=%q\n",
					e.TimeMS, e.Kind, e.Session, e.Seq, e.Code, e.Zone, e.Reason, e.Text)
			}
			return nil
		})
		skipped += n
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}

	fmt.Printf("files=%d entries=%d sessions=%d skipped=%d\n", read, total, len(sessions), skipped)
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-16s %d\n", k, counts[k])
	}
	if regressions > 0 {
		fmt.Fprintf(os.Stderr, "sequence regressions: %d\n", regressions)
		os.Exit(1)
	}
}
