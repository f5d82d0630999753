//go:build !linux

package chunkstore

import (
	"io/fs"
	"time"
)

// atimeOf falls back to mtime on platforms without st_atime in FileInfo.Sys,
// which only weakens GC's liveness window (more conservative retention,
// never over-aggressive collection).
func atimeOf(info fs.FileInfo) time.Time {
	return info.ModTime()
}
