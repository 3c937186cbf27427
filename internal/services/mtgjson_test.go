package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func mtgjsonFixtures() (map[string]mtgjsonCard, map[string]mtgjsonPriceFormats) {
	card := func(name, typ string, subtypes, types []string, scryfallID string) mtgjsonCard {
		return mtgjsonCard{
			Name:         name,
			Type:         typ,
			Availability: []string{"mtgo", "paper"},
			Legalities:   map[string]string{"standard": "Legal"},
			Subtypes:     subtypes,
			Types:        types,
			Identifiers:  map[string]string{"scryfallId": scryfallID, "mtgjsonV4Id": "v4-" + scryfallID, "tcgplayerProductId": "99"},
		}
	}
	idents := map[string]mtgjsonCard{
		"u2": card("Shock", "Instant", nil, []string{"Instant"}, "s2"),
		"u1": card("Grizzly Bears", "Creature — Bear", []string{"Bear"}, []string{"Creature"}, "s1"),
		"u3": card("Forest", "Basic Land — Forest", []string{"Forest"}, []string{"Land"}, "s3"),
		"u4": card("Opt", "Instant", nil, []string{"Instant"}, "s4"),
	}
	online := idents["u4"]
	online.Availability = []string{"arena"}
	idents["u4"] = online

	points := func(vals map[string]float64) *mtgjsonPricePoints {
		return &mtgjsonPricePoints{Normal: vals}
	}
	prices := map[string]mtgjsonPriceFormats{
		"u1": {Paper: map[string]mtgjsonPriceList{
			"tcgplayer": {
				Buylist: points(map[string]float64{"2024-01-01": 9}),
				Retail:  points(map[string]float64{"2024-01-01": 99}),
			},
			"cardkingdom": {
				Buylist: points(map[string]float64{"2024-01-02": 0.2, "2024-01-01": 0.1, "2024-01-03": 0.3}),
				Retail:  points(map[string]float64{"2024-01-01": 1, "2024-01-02": 2}),
			},
		}},
		"u2": {Paper: map[string]mtgjsonPriceList{
			"cardmarket": {Retail: points(map[string]float64{"2024-01-01": 5})},
		}},
		"u3": {Paper: map[string]mtgjsonPriceList{
			"cardkingdom": {Buylist: points(map[string]float64{"2024-01-01": 1}), Retail: points(map[string]float64{"2024-01-01": 1})},
		}},
	}
	return idents, prices
}

func TestPriceTable(t *testing.T) {
	idents, prices := mtgjsonFixtures()
	tb, err := PriceTable(idents, prices, 2)
	if err != nil {
		t.Fatalf("PriceTable: %v", err)
	}
	if tb.Len() != 2 {
		t.Fatalf("rows = %d, want buy and sell for one card", tb.Len())
	}
	want := []string{"uuid", "mtgjsonV4Id", "scryfallId", "subtype_Bear", "types_Creature", "types_Instant", "pd0", "pd1", "pricetype", "minday", "maxday"}
	cols := tb.Columns()
	if len(cols) != len(want) {
		t.Fatalf("columns = %v, want %v", cols, want)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("column %d = %s, want %s", i, cols[i], want[i])
		}
	}

	tests := []struct {
		row  int
		col  string
		want any
	}{
		{0, "pricetype", "buy"},
		{0, "pd0", 0.3},
		{0, "pd1", 0.2},
		{0, "minday", "2024-01-02"},
		{0, "maxday", "2024-01-03"},
		{1, "pricetype", "sell"},
		{1, "pd0", 2.0},
		{1, "pd1", 1.0},
		{1, "scryfallId", "s1"},
		{1, "subtype_Bear", 1.0},
		{1, "types_Instant", 0.0},
	}
	for _, tt := range tests {
		if got := tb.Value(tt.row, tt.col); got != tt.want {
			t.Errorf("row %d %s = %v, want %v", tt.row, tt.col, got, tt.want)
		}
	}
}

func TestPriceTableNewestDayFirst(t *testing.T) {
	idents, prices := mtgjsonFixtures()
	// Four buylist dates in a three-day window: the oldest one falls out.
	list := prices["u1"].Paper["cardkingdom"]
	list.Buylist.Normal["2023-12-31"] = 0.05
	tb, err := PriceTable(idents, prices, 3)
	if err != nil {
		t.Fatalf("PriceTable: %v", err)
	}
	want := []any{0.3, 0.2, 0.1}
	for i, w := range want {
		col := fmt.Sprintf("pd%d", i)
		if got := tb.Value(0, col); got != w {
			t.Errorf("buy %s = %v, want %v", col, got, w)
		}
	}
	if tb.Value(0, "minday") != "2024-01-01" || tb.Value(0, "maxday") != "2024-01-03" {
		t.Errorf("window = %v..%v", tb.Value(0, "minday"), tb.Value(0, "maxday"))
	}
}

func TestPriceTablePadsShortSeries(t *testing.T) {
	idents, prices := mtgjsonFixtures()
	tb, err := PriceTable(idents, prices, 4)
	if err != nil {
		t.Fatalf("PriceTable: %v", err)
	}
	if tb.Value(1, "pd0") != 2.0 || tb.Value(1, "pd1") != 1.0 || tb.Value(1, "pd2") != nil || tb.Value(1, "pd3") != nil {
		t.Errorf("sell row = %v", tb.Row(1))
	}
	if _, err := PriceTable(idents, prices, 0); err == nil {
		t.Error("expected error for zero days")
	}
}

func TestFetchPricesRetries(t *testing.T) {
	idents, prices := mtgjsonFixtures()
	var identCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/AllIdentifiers.json", func(w http.ResponseWriter, r *http.Request) {
		if identCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": idents})
	})
	mux.HandleFunc("/AllPrices.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": prices})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc := NewMTGJSONService(srv.URL+"/AllIdentifiers.json", srv.URL+"/AllPrices.json", 5*time.Second, 3, time.Millisecond)
	tb, err := svc.FetchPrices(context.Background(), 2)
	if err != nil {
		t.Fatalf("FetchPrices: %v", err)
	}
	if identCalls.Load() != 2 {
		t.Errorf("identifier requests = %d, want 2", identCalls.Load())
	}
	if tb.Len() != 2 {
		t.Errorf("rows = %d, want 2", tb.Len())
	}
}

func TestFetchPricesGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewMTGJSONService(srv.URL, srv.URL, time.Second, 2, time.Millisecond)
	if _, err := svc.FetchPrices(context.Background(), 2); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("requests = %d, want 1 + 2 retries", calls.Load())
	}
}
