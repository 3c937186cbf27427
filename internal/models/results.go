package models

// ClusterMatch pairs a card with one other card and both cluster labels.
type ClusterMatch struct {
	ID         uint    `json:"-" gorm:"primaryKey;autoIncrement"`
	RunID      string  `json:"run_id" gorm:"not null;index:idx_match_run_name"`
	ScryfallID string  `json:"scryfall_id"`
	Name       string  `json:"name" gorm:"not null;index:idx_match_run_name"`
	Group      int     `json:"kmgroups" gorm:"column:kmgroups"`
	Card       string  `json:"card"`
	Distance   float64 `json:"distance"`
	MatchGroup int     `json:"matchgroup" gorm:"column:matchgroup"`
	Price      float64 `json:"price"`
}

// ClusterCentroid is one coordinate of a cluster center. Size repeats the
// group's member count on every coordinate.
type ClusterCentroid struct {
	ID      uint    `json:"-" gorm:"primaryKey;autoIncrement"`
	RunID   string  `json:"run_id" gorm:"not null;index"`
	Group   int     `json:"group" gorm:"column:cluster_group"`
	Size    int     `json:"size"`
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// RegressionEffect is one significant covariate, or the placeholder row when
// nothing was significant (Placeholder true, only Explanation set).
type RegressionEffect struct {
	ID          uint     `json:"-" gorm:"primaryKey;autoIncrement"`
	RunID       string   `json:"run_id" gorm:"not null;index:idx_effect_run_model"`
	Model       string   `json:"model" gorm:"not null;index:idx_effect_run_model"` // "gee" or "ols"
	Response    string   `json:"response"`
	Variable    string   `json:"variable"`
	Estimate    *float64 `json:"estimate"`
	Lower       *float64 `json:"lower"`
	Upper       *float64 `json:"upper"`
	PValue      *float64 `json:"p_value"`
	OddsRatio   bool     `json:"odds_ratio"`
	Explanation string   `json:"explanation" gorm:"type:text"`
	Placeholder bool     `json:"placeholder"`
}

// FittedModel stores a serialized regression model so it can be reloaded and
// used for prediction.
type FittedModel struct {
	ID      uint   `json:"-" gorm:"primaryKey;autoIncrement"`
	RunID   string `json:"run_id" gorm:"not null;index"`
	Kind    string `json:"kind"`
	Formula string `json:"formula" gorm:"type:text"`
	Family  string `json:"family"`
	Payload []byte `json:"-"`
}
