//go:build linux

package sqlite

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Filesystem magic numbers from statfs(2) where WAL locking is unreliable.
const (
	nfsSuperMagic  = 0x6969
	smbSuperMagic  = 0x517B
	cifsMagic      = 0xFF534D42
	smb2MagicNum   = 0xFE534D42
)

// isNetworkFilesystem reports whether the directory holding path is on NFS,
// SMB or CIFS.
func isNetworkFilesystem(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(path), &st); err != nil {
		return false
	}
	switch uint32(st.Type) {
	case nfsSuperMagic, smbSuperMagic, cifsMagic, smb2MagicNum:
		return true
	}
	return false
}
