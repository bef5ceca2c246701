//go:build windows

package main

import (
	"context"
	"os"
	"time"

	"golang.org/x/term"
)

// watchResize polls the console size, which has no change signal on Windows.
func watchResize(ctx context.Context, onResize func()) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	fd := int(os.Stdout.Fd())
	lastCols, lastRows, _ := term.GetSize(fd)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cols, rows, err := term.GetSize(fd)
			if err != nil || (cols == lastCols && rows == lastRows) {
				continue
			}
			lastCols, lastRows = cols, rows
			onResize()
		}
	}
}
