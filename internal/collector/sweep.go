package collector

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// screenshotExts are the image files removed by SweepScreenshots.
var screenshotExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// SweepResult reports one screenshot directory sweep.
type SweepResult struct {
	Deleted int      `json:"deleted"`
	Bytes   int64    `json:"bytes"`
	Failed  []string `json:"failed,omitempty"`
}

// SweepScreenshots deletes image files in dir last modified before cutoff.
// A missing directory is an empty sweep. Per-file failures are collected in
// the result and do not stop the sweep.
func SweepScreenshots(dir string, cutoff time.Time) (SweepResult, error) {
	var res SweepResult

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("sweep screenshots: %w", err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !screenshotExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			res.Failed = append(res.Failed, entry.Name())
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			res.Failed = append(res.Failed, entry.Name())
			continue
		}
		res.Deleted++
		res.Bytes += info.Size()
	}
	return res, nil
}
