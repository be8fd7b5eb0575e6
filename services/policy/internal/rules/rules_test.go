package rules

import (
	"testing"

	"taskflow/pkg/config"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRateTable(t *testing.T) {
	r := Default()
	cases := map[string]string{
		"ID":   "0.11",
		" id ": "0.11",
		"gb":   "0.20",
		"DE":   "0.19",
		"US":   "0",
		"ZZ":   "0",
		"":     "0",
	}
	for in, want := range cases {
		if got := r.Rate(in); !got.Equal(d(want)) {
			t.Fatalf("Rate(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSurcharge(t *testing.T) {
	r := Default()
	cases := map[string]string{
		"1.4":  "6.65",
		"0":    "0",
		"-2":   "0",
		"1":    "5.75",
		"0.01": "3.52",
	}
	for in, want := range cases {
		if got := r.Surcharge(d(in)); !got.Equal(d(want)) {
			t.Fatalf("Surcharge(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestFeeAndMaxUnits(t *testing.T) {
	r := Default()
	if got := r.Fee(3); !got.Equal(d("250")) {
		t.Fatalf("Fee(3) = %s", got)
	}
	if got := r.Fee(-4); !got.Equal(d("100")) {
		t.Fatalf("Fee(-4) = %s", got)
	}
	if r.MaxUnits() != 24 {
		t.Fatalf("MaxUnits = %d", r.MaxUnits())
	}
}

func TestConfigOverridesMergeOverDefaults(t *testing.T) {
	r := New(config.RulesConfig{
		Rates:      map[string]float64{"fr": 0.2, "ID": 0.12},
		FeeBase:    200,
		MaxUnits:   18,
		FeePerUnit: 0,
	})
	if got := r.Rate("FR"); !got.Equal(d("0.2")) {
		t.Fatalf("Rate(FR) = %s", got)
	}
	if got := r.Rate("ID"); !got.Equal(d("0.12")) {
		t.Fatalf("Rate(ID) = %s", got)
	}
	if got := r.Rate("MY"); !got.Equal(d("0.08")) {
		t.Fatalf("Rate(MY) = %s", got)
	}
	if got := r.Fee(2); !got.Equal(d("300")) {
		t.Fatalf("Fee(2) = %s", got)
	}
	if r.MaxUnits() != 18 {
		t.Fatalf("MaxUnits = %d", r.MaxUnits())
	}
}
