package summaries

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/store"
)

const cacheKeyCol = "row_key"

// Cache stores compiled summaries between runs.
type Cache interface {
	GetSummaryCache(key string) (*store.SummaryCacheEntry, error)
	PutSummaryCache(e *store.SummaryCacheEntry) error
}

// CompileCached returns the cached compilation for dir and opts when there
// is one and recompute is false. Otherwise it compiles and stores the
// result. The second return value reports a cache hit.
func (c *Compiler) CompileCached(ctx context.Context, cache Cache, dir string, opts Options, recompute bool) (*Compiled, bool, error) {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	key := store.SummaryCacheKey(dir+"\x00"+pattern, opts.Dates)

	if !recompute {
		entry, err := cache.GetSummaryCache(key)
		switch {
		case err == nil:
			out, err := decodeCompiled(entry)
			if err == nil {
				c.logger.Info("loaded compiled summaries from cache",
					zap.String("key", key), zap.Int("rows", out.Features.Len()))
				return out, true, nil
			}
			c.logger.Warn("ignoring unreadable cache entry", zap.String("key", key), zap.Error(err))
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, err
		}
	}

	out, err := c.Compile(ctx, dir, opts)
	if err != nil {
		return nil, false, err
	}
	entry, err := encodeCompiled(key, out)
	if err != nil {
		return nil, false, err
	}
	if err := cache.PutSummaryCache(entry); err != nil {
		c.logger.Warn("could not cache compiled summaries", zap.Error(err))
	}
	return out, false, nil
}

func encodeCompiled(key string, c *Compiled) (*store.SummaryCacheEntry, error) {
	var feats, files bytes.Buffer
	if err := frame.WriteFeaturesCSV(&feats, c.Features, cacheKeyCol); err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	if err := frame.WriteMetadataCSV(&files, c.Files, cacheKeyCol); err != nil {
		return nil, fmt.Errorf("encode file table: %w", err)
	}
	return &store.SummaryCacheEntry{
		Key:         key,
		FeaturesCSV: feats.Bytes(),
		MetadataCSV: files.Bytes(),
		NRows:       c.Features.Len(),
	}, nil
}

func decodeCompiled(e *store.SummaryCacheEntry) (*Compiled, error) {
	feats, err := frame.ReadFeaturesCSV(bytes.NewReader(e.FeaturesCSV), cacheKeyCol)
	if err != nil {
		return nil, err
	}
	files, err := frame.ReadMetadataCSV(bytes.NewReader(e.MetadataCSV), cacheKeyCol)
	if err != nil {
		return nil, err
	}
	if _, err := frame.Align(feats, files); err != nil {
		return nil, err
	}
	return &Compiled{Features: feats, Files: files}, nil
}
