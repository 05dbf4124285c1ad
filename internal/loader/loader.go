// Package loader reads URL input files and turns them into validated,
// shard-assigned jobs.
//
// Grounded on original_source/tavily_scraper/utils/io.py's load_urls_from_txt,
// load_urls_from_csv, and make_url_jobs: same skip-blank-lines and
// skip-invalid-URLs-silently semantics, reimplemented with net/url in
// place of yarl.URL. Sharding (make_shards, referenced but not defined
// in original_source/tavily_scraper/pipelines/batch_runner.py's run_all_sharded) has
// no original precedent to follow, so Shard splits jobs into
// contiguous, size-bounded shards in input order.
package loader

import (
	"encoding/csv"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/chernistry/tavily/internal/model"
)

// FromText reads one URL per line, skipping blank lines. A missing file
// returns an empty slice rather than an error, mirroring
// load_urls_from_txt's not-path.exists() branch.
func FromText(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read urls file: %w", err)
	}

	var urls []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			urls = append(urls, line)
		}
	}
	return urls, nil
}

// FromCSV reads URLs from a named column of a CSV file. A missing
// column value on a given row is skipped (treated as an empty string),
// matching load_urls_from_csv's (row.get(url_column) or "").strip().
func FromCSV(path, urlColumn string) ([]string, error) {
	if urlColumn == "" {
		urlColumn = "url"
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer fh.Close()

	reader := csv.NewReader(fh)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	colIdx := -1
	for i, name := range header {
		if name == urlColumn {
			colIdx = i
			break
		}
	}
	if colIdx < 0 {
		return nil, fmt.Errorf("csv missing column %q", urlColumn)
	}

	var urls []string
	for {
		row, err := reader.Read()
		if err != nil {
			break
		}
		if colIdx >= len(row) {
			continue
		}
		u := strings.TrimSpace(row[colIdx])
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// MakeJobs validates each URL and builds a URLJob for the survivors,
// preserving the original position. Invalid URLs are skipped silently,
// matching make_url_jobs's bare except-continue.
func MakeJobs(urls []string) []model.URLJob {
	jobs := make([]model.URLJob, 0, len(urls))
	for _, raw := range urls {
		parsed, err := url.Parse(raw)
		if err != nil || !parsed.IsAbs() || parsed.Host == "" {
			continue
		}
		jobs = append(jobs, model.URLJob{URL: raw, ShardIndex: -1})
	}
	return jobs
}

// Shard splits jobs into contiguous shards of at most shardSize each,
// stamping ShardIndex and PositionInShard on every job in place. A
// non-positive shardSize is treated as "one shard."
func Shard(jobs []model.URLJob, shardSize int) [][]model.URLJob {
	if shardSize <= 0 || shardSize >= len(jobs) {
		for i := range jobs {
			jobs[i].ShardIndex = 0
			jobs[i].PositionInShard = i
		}
		if len(jobs) == 0 {
			return nil
		}
		return [][]model.URLJob{jobs}
	}

	var shards [][]model.URLJob
	for start := 0; start < len(jobs); start += shardSize {
		end := start + shardSize
		if end > len(jobs) {
			end = len(jobs)
		}
		shardIdx := len(shards)
		chunk := jobs[start:end]
		for i := range chunk {
			chunk[i].ShardIndex = shardIdx
			chunk[i].PositionInShard = i
		}
		shards = append(shards, chunk)
	}
	return shards
}
