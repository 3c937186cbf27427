package cluster

import (
	"github.com/codyseavey/plebmtg/internal/table"
)

// SimilarCards returns up to n rows of the neighbor table for the named card:
// other cards in the same group, closest first. n <= 0 returns all of them.
func SimilarCards(neighbors *table.Table, name string, n int) (*table.Table, error) {
	for _, c := range []string{ColName, ColCard, ColGroup, ColMatchGroup, ColDistance} {
		if !neighbors.Has(c) {
			return nil, &table.ColumnError{Column: c, Err: table.ErrColumnNotFound}
		}
	}
	matches := neighbors.Filter(func(r int) bool {
		return neighbors.Value(r, ColName) == name &&
			neighbors.Value(r, ColCard) != name &&
			table.Compare(neighbors.Value(r, ColGroup), neighbors.Value(r, ColMatchGroup)) == 0
	})
	sorted, err := matches.SortBy(ColDistance)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= sorted.Len() {
		return sorted, nil
	}
	top := make([]int, n)
	for i := range top {
		top[i] = i
	}
	return sorted.Take(top), nil
}
