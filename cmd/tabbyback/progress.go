package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/tabbyclass/tabbyback/internal/store"
)

// transferProgress returns a callback rendering in-place progress on
// stderr. Only wired up in interactive sessions; batch runs get the phase
// log lines instead.
func transferProgress(label string) store.Progress {
	return func(done, total int64) {
		if total > 0 {
			fmt.Fprintf(os.Stderr, "\r%s %3.0f%% (%s / %s)", label,
				float64(done)/float64(total)*100,
				humanize.IBytes(uint64(done)), humanize.IBytes(uint64(total)))
			if done >= total {
				fmt.Fprintln(os.Stderr)
			}
			return
		}
		fmt.Fprintf(os.Stderr, "\r%s %s", label, humanize.IBytes(uint64(done)))
	}
}
