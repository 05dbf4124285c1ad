package main

import (
	"context"

	"github.com/chernistry/tavily/internal/archive"
	"github.com/chernistry/tavily/internal/model"
	"github.com/chernistry/tavily/internal/resultstore"
)

// combinedSink fans a completed URL Record out to the mandatory JSONL
// result store and, when configured, the optional Postgres archive. The
// archive write is best-effort: its error is discarded so a flaky or
// unreachable archive never blocks or fails the mandatory result store
// write.
type combinedSink struct {
	sink     *resultstore.Store
	archiver *archive.PostgresArchiver
}

func (s *combinedSink) Write(record model.URLRecord) error {
	if err := s.sink.Write(record); err != nil {
		return err
	}
	if s.archiver != nil {
		_ = s.archiver.Archive(context.Background(), record)
	}
	return nil
}
