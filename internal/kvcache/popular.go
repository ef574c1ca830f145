package kvcache

import (
	"context"
	"fmt"

	"github.com/krxusd/marketdata/internal/domain"
)

const popularTTLSec = 300

// PopularEntry is one ranked symbol in a popular:{ranking} cache snapshot.
type PopularEntry struct {
	Symbol string `json:"symbol"`
	Rank   int    `json:"rank"`
}

func popularKey(ranking domain.RankingType) string {
	return fmt.Sprintf("popular:%s", ranking)
}

// GetPopular returns the cached ranking snapshot for ranking, if present.
func (c *Cache) GetPopular(ctx context.Context, ranking domain.RankingType) ([]PopularEntry, bool, error) {
	var entries []PopularEntry
	found, err := getJSON(ctx, c, popularKey(ranking), &entries)
	return entries, found, err
}

// SetPopular writes the ranking snapshot with the 300s TTL.
func (c *Cache) SetPopular(ctx context.Context, ranking domain.RankingType, entries []PopularEntry) error {
	return setJSON(ctx, c, popularKey(ranking), entries, popularTTLSec)
}
