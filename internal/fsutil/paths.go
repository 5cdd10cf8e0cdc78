package fsutil

import "path/filepath"

// UploadsDir holds raw files received from library picks and captures.
func UploadsDir(root string) string {
	return filepath.Join(root, "uploads")
}

// ScratchDir is the default home of intermediate transcode files.
func ScratchDir(root string) string {
	return filepath.Join(root, "scratch")
}

func PostsDir(root string) string {
	return filepath.Join(root, "posts")
}
