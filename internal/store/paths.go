package store

import "path/filepath"

func StatePath(root string) string {
	return filepath.Join(root, "state.toml")
}

func StagingRoot(root string) string {
	return filepath.Join(root, "staging")
}

func AuditPath(root string) string {
	return filepath.Join(root, "audit.log")
}
