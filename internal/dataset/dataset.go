// Package dataset inspects Parquet datasets written to a local directory.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/parquet/file"
)

// Stats summarizes a dataset directory.
type Stats struct {
	Files int
	Rows  int64
	Bytes int64
	// Partitions are the distinct partition directories relative to the
	// dataset root, e.g. "year=2018/month=11". Empty for unpartitioned data.
	Partitions []string
}

// ParquetFiles returns every .parquet file under dir, sorted.
func ParquetFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && strings.HasSuffix(info.Name(), ".parquet") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Inspect reads the footer of every Parquet file under dir.
func Inspect(dir string) (*Stats, error) {
	files, err := ParquetFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	stats := &Stats{Files: len(files)}
	partitions := make(map[string]struct{})

	for _, p := range files {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		stats.Bytes += info.Size()

		rows, err := footerRows(p)
		if err != nil {
			return nil, err
		}
		stats.Rows += rows

		rel, err := filepath.Rel(dir, filepath.Dir(p))
		if err != nil {
			return nil, err
		}
		if rel != "." {
			partitions[filepath.ToSlash(rel)] = struct{}{}
		}
	}

	for part := range partitions {
		stats.Partitions = append(stats.Partitions, part)
	}
	sort.Strings(stats.Partitions)
	return stats, nil
}

func footerRows(path string) (int64, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return 0, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}
	defer rdr.Close()
	return rdr.NumRows(), nil
}
