// internal/domain/address/address.go
package address

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("address not found")
	ErrAmbiguous = errors.New("address is ambiguous")
)

// Fields are the structured parts of an address, as far as upstream provides them.
type Fields struct {
	Street      string `json:"street"`
	HouseNumber string `json:"house_number"`
	PostalCode  string `json:"postal_code,omitempty"`
	District    string `json:"district,omitempty"`
}

// Record is one entry of the upstream address catalogue.
type Record struct {
	RawText    string `json:"raw_text"`
	LocationID string `json:"location_id"`
	Fields     Fields `json:"fields"`
}

// Label is the human readable form of the record.
func (r Record) Label() string {
	if r.Fields.PostalCode == "" && r.Fields.District == "" {
		return r.RawText
	}
	extra := strings.TrimSpace(r.Fields.PostalCode + " " + r.Fields.District)
	return fmt.Sprintf("%s (%s)", r.RawText, extra)
}

// AmbiguousError lists the records that matched a query equally well.
// Corrected is set when no record matched exactly and the candidates are
// spelling corrections that need confirmation, even if there is only one.
type AmbiguousError struct {
	Query      string
	Candidates []Record
	Corrected  bool
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("address %q matches %d locations", e.Query, len(e.Candidates))
}

func (e *AmbiguousError) Unwrap() error { return ErrAmbiguous }

// IndexCache persists the last built index so a restart does not need the upstream.
// LoadIndex returns (nil, nil) when nothing has been stored yet.
type IndexCache interface {
	LoadIndex(ctx context.Context) (*Index, error)
	SaveIndex(ctx context.Context, idx *Index) error
}

var (
	streetSuffix = regexp.MustCompile(`stra(ß|ss)e\b|str\.`)
	houseLetter  = regexp.MustCompile(`(\d+)\s+([a-z])\b`)
	houseNumber  = regexp.MustCompile(`^(.*?)\s+(\d+\s?[a-zA-Z]?(?:-\d+\s?[a-zA-Z]?)?)$`)
)

// Normalize maps an address spelling to its index key. Queries and catalogue
// entries go through the same function.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(",", " ", ";", " ", "\t", " ").Replace(s)
	s = streetSuffix.ReplaceAllString(s, "str")
	s = strings.Join(strings.Fields(s), " ")
	return houseLetter.ReplaceAllString(s, "$1$2")
}

// SplitStreet splits "Chemnitzer Straße 42a" into street and house number.
// Text without a trailing house number is returned as street only.
func SplitStreet(raw string) (street, number string) {
	raw = strings.Join(strings.Fields(raw), " ")
	m := houseNumber.FindStringSubmatch(raw)
	if m == nil {
		return raw, ""
	}
	return m[1], strings.ReplaceAll(m[2], " ", "")
}

// Index is an immutable address index. Rebuilding produces a new Index.
type Index struct {
	BuiltAt time.Time
	Records []Record

	byKey map[string][]int
	byID  map[string]int
	keys  []string
}

// NewIndex builds the lookup tables for records.
func NewIndex(records []Record, builtAt time.Time) *Index {
	idx := &Index{
		BuiltAt: builtAt,
		Records: records,
		byKey:   make(map[string][]int, len(records)),
		byID:    make(map[string]int, len(records)),
	}
	for i, r := range records {
		key := Normalize(r.RawText)
		if _, seen := idx.byKey[key]; !seen {
			idx.keys = append(idx.keys, key)
		}
		idx.byKey[key] = append(idx.byKey[key], i)
		if _, seen := idx.byID[r.LocationID]; !seen {
			idx.byID[r.LocationID] = i
		}
	}
	return idx
}

func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Records)
}

// Exact returns the records stored under a normalized key.
func (idx *Index) Exact(key string) []Record {
	positions := idx.byKey[key]
	out := make([]Record, 0, len(positions))
	for _, p := range positions {
		out = append(out, idx.Records[p])
	}
	return out
}

// Keys returns all distinct normalized keys.
func (idx *Index) Keys() []string {
	return idx.keys
}

// Record returns the first record carrying locationID.
func (idx *Index) Record(locationID string) (Record, bool) {
	if idx == nil {
		return Record{}, false
	}
	p, ok := idx.byID[locationID]
	if !ok {
		return Record{}, false
	}
	return idx.Records[p], true
}
