// Package vectorstore holds helpers shared by the vector store implementations.
package vectorstore

import (
	"fmt"
	"maps"
	"math"
	"sort"

	"policyrag/internal/domain"
)

// CosineDistance returns 1 - cosine similarity. Zero vectors are at distance 1.
func CosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Matches reports whether metadata contains every key/value pair in where.
func Matches(metadata, where map[string]string) bool {
	for k, v := range where {
		if got, ok := metadata[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// SortHits orders hits by ascending distance, keeping the input order for ties.
func SortHits(hits []domain.QueryHit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
}

// CheckRecords validates ids and embedding dimensions before a write.
// dimension 0 accepts any length as long as all records agree.
func CheckRecords(records []domain.IndexRecord, dimension int) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record %d has an empty id: %w", i, domain.ErrInvalidInput)
		}
		want := dimension
		if want == 0 {
			want = len(records[0].Embedding)
		}
		if len(r.Embedding) == 0 || len(r.Embedding) != want {
			return fmt.Errorf("record %s has %d dimensions, want %d: %w", r.ID, len(r.Embedding), want, domain.ErrDimensionMismatch)
		}
	}
	return nil
}

// CloneMetadata returns an independent copy of m.
func CloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	maps.Copy(out, m)
	return out
}
