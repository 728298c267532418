package mvarload_api

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// idCache remembers resolved ids across batches. A zero id records a key
// that is known to be absent.
type idCache struct {
	cache *lru.Cache[string, int64]
}

func newIDCache(size int) (*idCache, error) {
	if size <= 0 {
		size = 50000
	}
	cache, err := lru.New[string, int64](size)
	if err != nil {
		return nil, err
	}
	return &idCache{cache: cache}, nil
}

// split returns the cached ids and the keys still to look up.
func (c *idCache) split(keys []string) (map[string]int64, []string) {
	found := make(map[string]int64, len(keys))
	var missing []string
	for _, key := range uniqueStrings(keys) {
		if id, ok := c.cache.Get(key); ok {
			if id != 0 {
				found[key] = id
			}
			continue
		}
		missing = append(missing, key)
	}
	return found, missing
}

func (c *idCache) store(keys []string, resolved map[string]int64) {
	for _, key := range keys {
		c.cache.Add(key, resolved[key])
	}
}

// GeneResolver maps gene symbols to gene ids: exact symbol first, then the synonym table.
// Unknown symbols are absent from the result.
type GeneResolver struct {
	cache *idCache
	maxIn int
}

func NewGeneResolver(cacheSize, maxInParams int) (*GeneResolver, error) {
	cache, err := newIDCache(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gene cache: %w", err)
	}
	return &GeneResolver{cache: cache, maxIn: maxInParams}, nil
}

func (g *GeneResolver) Resolve(ctx context.Context, r sqlRunner, symbols []string) (map[string]int64, error) {
	found, missing := g.cache.split(symbols)
	if len(missing) == 0 {
		return found, nil
	}

	bySymbol, err := lookupIDs(ctx, r, g.maxIn,
		"SELECT id, symbol AS k FROM gene WHERE symbol IN (?) ORDER BY id", missing)
	if err != nil {
		return nil, fmt.Errorf("resolve gene symbols: %w", err)
	}

	var unresolved []string
	for _, symbol := range missing {
		if _, ok := bySymbol[symbol]; !ok {
			unresolved = append(unresolved, symbol)
		}
	}
	if len(unresolved) > 0 {
		bySynonym, err := lookupIDs(ctx, r, g.maxIn,
			"SELECT gs.gene_synonyms_id AS id, s.name AS k FROM synonym s "+
				"JOIN gene_synonym gs ON gs.synonym_id = s.id WHERE s.name IN (?) ORDER BY gs.gene_synonyms_id",
			unresolved)
		if err != nil {
			return nil, fmt.Errorf("resolve gene synonyms: %w", err)
		}
		for symbol, id := range bySynonym {
			bySymbol[symbol] = id
		}
	}

	g.cache.store(missing, bySymbol)
	for symbol, id := range bySymbol {
		found[symbol] = id
	}
	return found, nil
}

// TranscriptResolver maps version-less transcript accessions to transcript ids.
type TranscriptResolver struct {
	cache *idCache
	maxIn int
}

func NewTranscriptResolver(cacheSize, maxInParams int) (*TranscriptResolver, error) {
	cache, err := newIDCache(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create transcript cache: %w", err)
	}
	return &TranscriptResolver{cache: cache, maxIn: maxInParams}, nil
}

func (t *TranscriptResolver) Resolve(ctx context.Context, r sqlRunner, accessions []string) (map[string]int64, error) {
	found, missing := t.cache.split(accessions)
	if len(missing) == 0 {
		return found, nil
	}
	resolved, err := lookupIDs(ctx, r, t.maxIn,
		"SELECT id, primary_identifier AS k FROM transcript WHERE primary_identifier IN (?) ORDER BY id", missing)
	if err != nil {
		return nil, fmt.Errorf("resolve transcripts: %w", err)
	}
	t.cache.store(missing, resolved)
	for accession, id := range resolved {
		found[accession] = id
	}
	return found, nil
}
