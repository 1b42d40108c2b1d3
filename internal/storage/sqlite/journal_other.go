//go:build !linux

package sqlite

// isNetworkFilesystem has no portable probe outside Linux.
func isNetworkFilesystem(string) bool {
	return false
}
