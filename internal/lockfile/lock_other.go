//go:build !unix && !windows

package lockfile

import "os"

// No advisory locking here; such platforms run a single bd process.

func flockExclusiveNonBlock(*os.File) error { return nil }

func flockUnlock(*os.File) error { return nil }

func isProcessRunning(pid int) bool { return pid > 0 }
