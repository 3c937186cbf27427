package models

import (
	"time"
)

// MergedCard is one merged attribute/price row kept for lookups (image urls,
// rarity) after an analysis run.
type MergedCard struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID      string    `json:"run_id" gorm:"not null;index"`
	ScryfallID string    `json:"scryfall_id" gorm:"not null;index"`
	Name       string    `json:"name" gorm:"not null;index"`
	SetCode    string    `json:"set_code"`
	Rarity     string    `json:"rarity"`
	ReleasedAt string    `json:"released_at"`
	PriceType  string    `json:"price_type"` // "buy" or "sell"
	ImageURL   string    `json:"image_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// CardName backs name autocomplete.
type CardName struct {
	Name      string    `json:"name" gorm:"primaryKey"`
	RunID     string    `json:"run_id" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

type CardSearchResult struct {
	Names      []string `json:"names"`
	TotalCount int      `json:"total_count"`
	HasMore    bool     `json:"has_more"`
}

// SimilarCard is a neighbor from the same cluster as the queried card.
type SimilarCard struct {
	Card     string  `json:"card"`
	Group    int     `json:"group"`
	Distance float64 `json:"distance"`
	Price    float64 `json:"price"`
	ImageURL string  `json:"image_url"`
}

type SimilarCardsResult struct {
	Name     string        `json:"name"`
	ImageURL string        `json:"image_url"`
	RunID    string        `json:"run_id"`
	Cards    []SimilarCard `json:"cards"`
}
