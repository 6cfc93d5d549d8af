package workspace

import (
	"path/filepath"
	"sync"
)

var locks sync.Map

// LockFor returns the process-wide lock guarding the working copy at dir.
// Managers of different sprints on the same directory must share it.
func LockFor(dir string) *sync.Mutex {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	l, _ := locks.LoadOrStore(filepath.Clean(dir), &sync.Mutex{})
	return l.(*sync.Mutex)
}
