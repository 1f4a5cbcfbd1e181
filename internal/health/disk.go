package health

import (
	"context"
	"fmt"
	"os"
	"syscall"
)

// DiskChecker verifies the export directory exists and has headroom.
// Exports are large; running the disk to zero mid-encode corrupts output.
type DiskChecker struct {
	path      string
	threshold float64 // used-space fraction above which the check fails
}

// NewDiskChecker creates a disk space checker for the given directory.
func NewDiskChecker(path string, threshold float64) *DiskChecker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.9
	}
	return &DiskChecker{path: path, threshold: threshold}
}

// Name returns the name of the checker.
func (d *DiskChecker) Name() string {
	return "disk"
}

// Check fails when the export directory is missing or its filesystem is
// past the usage threshold.
func (d *DiskChecker) Check(_ context.Context) error {
	info, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("export directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("export path %s is not a directory", d.path)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(d.path, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", d.path, err)
	}

	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return fmt.Errorf("filesystem reports zero capacity for %s", d.path)
	}
	free := stat.Bavail * uint64(stat.Bsize)
	used := float64(total-free) / float64(total)

	if used > d.threshold {
		return fmt.Errorf("disk usage %.1f%% exceeds %.0f%% threshold",
			used*100, d.threshold*100)
	}
	return nil
}
