package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/codyseavey/plebmtg/internal/metrics"
	"github.com/codyseavey/plebmtg/internal/table"
)

const scryfallBulkURL = "https://api.scryfall.com/bulk-data/default-cards"

// ScryfallService downloads the default-cards bulk file and turns it into the
// card attribute table.
type ScryfallService struct {
	client  *http.Client
	bulkURL string
	limiter *rate.Limiter
}

// NewScryfallService limits requests to rps per second (Scryfall asks for at
// most 10).
func NewScryfallService(bulkURL string, timeout time.Duration, rps int) *ScryfallService {
	if bulkURL == "" {
		bulkURL = scryfallBulkURL
	}
	if rps <= 0 {
		rps = 10
	}
	return &ScryfallService{
		client:  &http.Client{Timeout: timeout},
		bulkURL: bulkURL,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type scryfallBulkData struct {
	Object      string `json:"object"`
	Type        string `json:"type"`
	DownloadURI string `json:"download_uri"`
	UpdatedAt   string `json:"updated_at"`
}

// FetchAttributes downloads every card and keeps standard-legal English
// expansion and core cards that are not basic lands.
func (s *ScryfallService) FetchAttributes(ctx context.Context) (*table.Table, error) {
	start := time.Now()

	var bulk scryfallBulkData
	if err := s.getJSON(ctx, s.bulkURL, &bulk); err != nil {
		return nil, fmt.Errorf("scryfall bulk data: %w", err)
	}
	if bulk.DownloadURI == "" {
		return nil, fmt.Errorf("scryfall bulk data has no download_uri")
	}

	resp, err := s.get(ctx, bulk.DownloadURI)
	if err != nil {
		return nil, fmt.Errorf("scryfall download: %w", err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if tok, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to decode scryfall cards: %w", err)
	} else if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("scryfall cards: expected a JSON array")
	}

	var kept []map[string]any
	total := 0
	for dec.More() {
		var card map[string]any
		if err := dec.Decode(&card); err != nil {
			return nil, fmt.Errorf("failed to decode scryfall card %d: %w", total, err)
		}
		total++
		if keepScryfallCard(card) {
			kept = append(kept, card)
		}
	}

	t, err := AttributeTable(kept)
	if err != nil {
		return nil, err
	}
	metrics.UpstreamRows.WithLabelValues("scryfall").Set(float64(t.Len()))
	log.Infof("Scryfall: kept %d of %d cards (%d columns) in %s", t.Len(), total, t.Width(), time.Since(start).Round(time.Millisecond))
	return t, nil
}

func (s *ScryfallService) get(ctx context.Context, url string) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("scryfall", "failed").Inc()
		return nil, fmt.Errorf("failed to reach scryfall: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		metrics.UpstreamRequestsTotal.WithLabelValues("scryfall", "failed").Inc()
		return nil, fmt.Errorf("scryfall API returned status %d", resp.StatusCode)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("scryfall", "success").Inc()
	return resp, nil
}

func (s *ScryfallService) getJSON(ctx context.Context, url string, out any) error {
	resp, err := s.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode scryfall response: %w", err)
	}
	return nil
}

func keepScryfallCard(card map[string]any) bool {
	legal, _ := card["legalities"].(map[string]any)
	if legal == nil || legal["standard"] != "legal" {
		return false
	}
	switch card["set_type"] {
	case "expansion", "core":
	default:
		return false
	}
	if card["lang"] != "en" {
		return false
	}
	typeLine, _ := card["type_line"].(string)
	return !strings.Contains(typeLine, "Basic Land")
}

var (
	manaSymbolStrip = regexp.MustCompile(`\{|\}|[0-9]|/|\s+`)
	flagNameStrip   = regexp.MustCompile(`-|,|/|\s+`)
)

// scryfallDropped are nested or descriptive fields with no tabular use.
var scryfallDropped = map[string]bool{
	"all_parts": true, "preview": true, "card_faces": true, "multiverse_ids": true, "games": true,
	"legalities": true, "prices": true, "artist_ids": true, "colors": true, "mana_cost": true,
	"color_identity": true, "illustration_id": true, "card_back_id": true, "produced_mana": true,
	"promo_types": true, "frame_effects": true, "keywords": true, "arena_id": true, "image_uris": true,
	"related_uris": true, "purchase_uris": true, "finishes": true,
}

// AttributeTable flattens Scryfall card objects into one row per card.
// Mana cost symbols become colors_* counts, color identity icolor_* flags,
// keywords kw_* flags and produced mana pmana_* counts; promo types, frame
// effects and an Arena id become the ispromo, difframe and arenahas flags.
// image_url is taken from image_uris (normal, then large, then small).
// Remaining nested values are dropped.
func AttributeTable(cards []map[string]any) (*table.Table, error) {
	base := map[string]bool{}
	colors, icolors, keywords, pmana := map[string]bool{}, map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, c := range cards {
		for k, v := range c {
			if scryfallDropped[k] || (strings.Contains(k, "uri") && k != "image_uris") {
				continue
			}
			switch v.(type) {
			case map[string]any, []any:
				continue
			}
			base[k] = true
		}
		if cost, ok := c["mana_cost"].(string); ok {
			for _, r := range manaSymbolStrip.ReplaceAllString(cost, "") {
				colors[string(r)] = true
			}
		}
		for _, s := range stringList(c["color_identity"]) {
			icolors[s] = true
		}
		for _, s := range stringList(c["keywords"]) {
			keywords[s] = true
		}
		for _, s := range stringList(c["produced_mana"]) {
			pmana[manaSymbolStrip.ReplaceAllString(s, "")] = true
		}
	}
	delete(pmana, "")

	baseCols := sortedKeys(base)
	columns := append([]string{}, baseCols...)
	columns = append(columns, "image_url", "ispromo", "difframe", "arenahas")
	colorCols, icolorCols, kwCols, pmanaCols := sortedKeys(colors), sortedKeys(icolors), sortedKeys(keywords), sortedKeys(pmana)
	for _, c := range colorCols {
		columns = append(columns, "colors_"+c)
	}
	for _, c := range icolorCols {
		columns = append(columns, "icolor_"+c)
	}
	for _, k := range kwCols {
		columns = append(columns, "kw_"+flagNameStrip.ReplaceAllString(k, ""))
	}
	for _, p := range pmanaCols {
		columns = append(columns, "pmana_"+p)
	}

	rows := make([][]any, len(cards))
	for i, c := range cards {
		row := make([]any, 0, len(columns))
		for _, k := range baseCols {
			v := c[k]
			switch v.(type) {
			case map[string]any, []any:
				v = nil
			}
			row = append(row, v)
		}
		row = append(row, imageURL(c), presence(c["promo_types"]), presence(c["frame_effects"]), presence(c["arena_id"]))

		cost, _ := c["mana_cost"].(string)
		for _, sym := range colorCols {
			row = append(row, float64(strings.Count(cost, sym)))
		}
		identity := stringList(c["color_identity"])
		for _, sym := range icolorCols {
			row = append(row, flag(contains(identity, sym)))
		}
		kws := stringList(c["keywords"])
		for _, k := range kwCols {
			row = append(row, flag(contains(kws, k)))
		}
		produced := stringList(c["produced_mana"])
		for _, p := range pmanaCols {
			n := 0
			for _, s := range produced {
				if s == p {
					n++
				}
			}
			row = append(row, float64(n))
		}
		rows[i] = row
	}

	t, err := table.FromRows(uniqueColumns(columns), rows)
	if err != nil {
		return nil, fmt.Errorf("scryfall attribute table: %w", err)
	}
	return t, nil
}

func imageURL(card map[string]any) any {
	uris, _ := card["image_uris"].(map[string]any)
	for _, size := range []string{"normal", "large", "small"} {
		if u, ok := uris[size].(string); ok && u != "" {
			return u
		}
	}
	return nil
}

func presence(v any) float64 {
	if v == nil {
		return 0
	}
	return 1
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// uniqueColumns suffixes repeated names, which can appear when two keywords
// sanitize to the same flag.
func uniqueColumns(cols []string) []string {
	seen := make(map[string]int, len(cols))
	out := make([]string, len(cols))
	for i, c := range cols {
		seen[c]++
		if n := seen[c]; n > 1 {
			c = fmt.Sprintf("%s_%d", c, n)
		}
		out[i] = c
	}
	return out
}
