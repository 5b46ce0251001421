//go:build !linux

package fsqueue

func renameNoReplace(src, dst string) error {
	return linkMove(src, dst)
}
