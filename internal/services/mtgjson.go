package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/codyseavey/plebmtg/internal/metrics"
	"github.com/codyseavey/plebmtg/internal/table"
	"github.com/codyseavey/plebmtg/internal/transform"
)

const (
	mtgjsonIdentifiersURL = "https://mtgjson.com/api/v5/AllIdentifiers.json"
	mtgjsonPricesURL      = "https://mtgjson.com/api/v5/AllPrices.json"
)

// Price providers tried in order when a card lists several; the rest follow
// alphabetically.
var preferredProviders = []string{"cardkingdom", "tcgplayer", "cardmarket", "cardsphere"}

// MTGJSONService joins MTGJSON identifiers with their paper price history.
type MTGJSONService struct {
	client         *resty.Client
	identifiersURL string
	pricesURL      string
}

// NewMTGJSONService retries connection errors and 5xx responses retryCount
// times, waiting retryWait between attempts.
func NewMTGJSONService(identifiersURL, pricesURL string, timeout time.Duration, retryCount int, retryWait time.Duration) *MTGJSONService {
	if identifiersURL == "" {
		identifiersURL = mtgjsonIdentifiersURL
	}
	if pricesURL == "" {
		pricesURL = mtgjsonPricesURL
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(retryCount)
	client.SetRetryWaitTime(retryWait)
	client.SetRetryMaxWaitTime(10 * retryWait)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})
	return &MTGJSONService{
		client:         client,
		identifiersURL: identifiersURL,
		pricesURL:      pricesURL,
	}
}

type mtgjsonIdentifierFile struct {
	Data map[string]mtgjsonCard `json:"data"`
}

type mtgjsonCard struct {
	Name         string            `json:"name"`
	UUID         string            `json:"uuid"`
	Type         string            `json:"type"`
	Availability []string          `json:"availability"`
	Legalities   map[string]string `json:"legalities"`
	Subtypes     []string          `json:"subtypes"`
	Supertypes   []string          `json:"supertypes"`
	Types        []string          `json:"types"`
	Identifiers  map[string]string `json:"identifiers"`
}

type mtgjsonPriceFile struct {
	Data map[string]mtgjsonPriceFormats `json:"data"`
}

type mtgjsonPriceFormats struct {
	Paper map[string]mtgjsonPriceList `json:"paper"`
}

type mtgjsonPriceList struct {
	Buylist  *mtgjsonPricePoints `json:"buylist"`
	Retail   *mtgjsonPricePoints `json:"retail"`
	Currency string              `json:"currency"`
}

type mtgjsonPricePoints struct {
	Normal map[string]float64 `json:"normal"`
	Foil   map[string]float64 `json:"foil"`
}

// FetchPrices downloads identifiers and prices and builds the wide price
// table with pd0..pd{days-1}.
func (s *MTGJSONService) FetchPrices(ctx context.Context, days int) (*table.Table, error) {
	start := time.Now()

	var idents mtgjsonIdentifierFile
	if err := s.getJSON(ctx, s.identifiersURL, &idents); err != nil {
		return nil, fmt.Errorf("mtgjson identifiers: %w", err)
	}
	log.Infof("MTGJSON: identifiers loaded in %s (%d cards)", time.Since(start).Round(time.Millisecond), len(idents.Data))

	var prices mtgjsonPriceFile
	if err := s.getJSON(ctx, s.pricesURL, &prices); err != nil {
		return nil, fmt.Errorf("mtgjson prices: %w", err)
	}

	t, err := PriceTable(idents.Data, prices.Data, days)
	if err != nil {
		return nil, err
	}
	metrics.UpstreamRows.WithLabelValues("mtgjson").Set(float64(t.Len()))
	log.Infof("MTGJSON: built %d price rows in %s", t.Len(), time.Since(start).Round(time.Millisecond))
	return t, nil
}

func (s *MTGJSONService) getJSON(ctx context.Context, url string, out any) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("mtgjson", "failed").Inc()
		return fmt.Errorf("failed to reach mtgjson: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		metrics.UpstreamRequestsTotal.WithLabelValues("mtgjson", "failed").Inc()
		return fmt.Errorf("mtgjson returned status %d", resp.StatusCode())
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("mtgjson", "success").Inc()
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode mtgjson response: %w", err)
	}
	return nil
}

// keepIdentifier keeps paper, standard-listed, non-basic-land cards.
func keepIdentifier(c mtgjsonCard) bool {
	if !contains(c.Availability, "paper") {
		return false
	}
	if _, ok := c.Legalities["standard"]; !ok {
		return false
	}
	return !strings.Contains(c.Type, "Basic Land")
}

// PriceTable builds two rows per card (pricetype buy from the buylist, sell
// from retail) holding the non-foil paper history of one provider. Cards
// missing either side are dropped. Each series keeps its most recent days
// dates, newest first: pd0 is the latest price. Series shorter than the
// window leave the oldest day columns null.
// Identifier columns (mtgjson*, scryfall*) and subtype_, supertype_ and types_
// flags come from the identifier file.
func PriceTable(idents map[string]mtgjsonCard, prices map[string]mtgjsonPriceFormats, days int) (*table.Table, error) {
	if days <= 0 {
		return nil, fmt.Errorf("mtgjson: days must be positive, got %d", days)
	}

	uuids := make([]string, 0, len(idents))
	idKeys, subtypes, supertypes, types := map[string]bool{}, map[string]bool{}, map[string]bool{}, map[string]bool{}
	for id, c := range idents {
		if !keepIdentifier(c) {
			continue
		}
		uuids = append(uuids, id)
		for k := range c.Identifiers {
			if strings.Contains(k, "mtgjson") || strings.Contains(k, "scryfall") {
				idKeys[k] = true
			}
		}
		for _, v := range c.Subtypes {
			subtypes[v] = true
		}
		for _, v := range c.Supertypes {
			supertypes[v] = true
		}
		for _, v := range c.Types {
			types[v] = true
		}
	}
	sort.Strings(uuids)

	keyCols := sortedKeys(idKeys)
	subCols, superCols, typeCols := sortedKeys(subtypes), sortedKeys(supertypes), sortedKeys(types)
	columns := append([]string{"uuid"}, keyCols...)
	for _, v := range subCols {
		columns = append(columns, "subtype_"+flagNameStrip.ReplaceAllString(v, ""))
	}
	for _, v := range superCols {
		columns = append(columns, "supertype_"+flagNameStrip.ReplaceAllString(v, ""))
	}
	for _, v := range typeCols {
		columns = append(columns, "types_"+flagNameStrip.ReplaceAllString(v, ""))
	}
	for i := 0; i < days; i++ {
		columns = append(columns, fmt.Sprintf("%s%d", transform.DayPrefix, i))
	}
	columns = append(columns, "pricetype", "minday", "maxday")

	var buyRows, sellRows [][]any
	for _, id := range uuids {
		buy, sell, ok := paperSeries(prices[id])
		if !ok {
			continue
		}
		c := idents[id]
		head := []any{id}
		for _, k := range keyCols {
			head = append(head, c.Identifiers[k])
		}
		for _, v := range subCols {
			head = append(head, flag(contains(c.Subtypes, v)))
		}
		for _, v := range superCols {
			head = append(head, flag(contains(c.Supertypes, v)))
		}
		for _, v := range typeCols {
			head = append(head, flag(contains(c.Types, v)))
		}
		buyRows = append(buyRows, seriesRow(head, buy, days, "buy"))
		sellRows = append(sellRows, seriesRow(head, sell, days, "sell"))
	}

	t, err := table.FromRows(uniqueColumns(columns), append(buyRows, sellRows...))
	if err != nil {
		return nil, fmt.Errorf("mtgjson price table: %w", err)
	}
	return t, nil
}

// paperSeries picks the first provider with both non-foil buylist and retail
// history.
func paperSeries(f mtgjsonPriceFormats) (buy, sell map[string]float64, ok bool) {
	providers := make([]string, 0, len(f.Paper))
	for p := range f.Paper {
		providers = append(providers, p)
	}
	sort.SliceStable(providers, func(i, j int) bool {
		ri, rj := providerRank(providers[i]), providerRank(providers[j])
		if ri != rj {
			return ri < rj
		}
		return providers[i] < providers[j]
	})
	for _, p := range providers {
		list := f.Paper[p]
		if list.Buylist == nil || list.Retail == nil {
			continue
		}
		if len(list.Buylist.Normal) == 0 || len(list.Retail.Normal) == 0 {
			continue
		}
		return list.Buylist.Normal, list.Retail.Normal, true
	}
	return nil, nil, false
}

func providerRank(p string) int {
	for i, q := range preferredProviders {
		if p == q {
			return i
		}
	}
	return len(preferredProviders)
}

func seriesRow(head []any, series map[string]float64, days int, direction string) []any {
	dates := make([]string, 0, len(series))
	for d := range series {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > days {
		dates = dates[:days]
	}

	row := append(make([]any, 0, len(head)+days+3), head...)
	for i := 0; i < days; i++ {
		if i < len(dates) {
			row = append(row, series[dates[i]])
		} else {
			row = append(row, nil)
		}
	}
	row = append(row, direction, dates[len(dates)-1], dates[0])
	return row
}
