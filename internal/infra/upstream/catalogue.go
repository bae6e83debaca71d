package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"waste_reminder_bot/internal/domain/address"
	"waste_reminder_bot/internal/domain/pickup"

	"github.com/sirupsen/logrus"
)

// CatalogueClient downloads the address catalogue, a GeoJSON feature collection.
type CatalogueClient struct {
	url    string
	getter *httpGetter
	logger *logrus.Entry
}

func NewCatalogueClient(url string, opts Options, logger *logrus.Entry) *CatalogueClient {
	logCtx := logger.WithField("component", "catalogue_client")
	return &CatalogueClient{
		url:    url,
		getter: newHTTPGetter("address-catalogue", opts, logCtx),
		logger: logCtx,
	}
}

type featureCollection struct {
	Features []struct {
		ID         flexString `json:"id"`
		Properties struct {
			Adresse   string     `json:"adresse"`
			PLZ       flexString `json:"plz"`
			Stadtteil string     `json:"stadtteil"`
		} `json:"properties"`
	} `json:"features"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// FetchCatalogue returns every record with an address and an id. Features
// missing either are skipped.
func (c *CatalogueClient) FetchCatalogue(ctx context.Context) ([]address.Record, error) {
	body, err := c.getter.get(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("address catalogue: %w", err)
	}

	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("%w: address catalogue: %v", pickup.ErrMalformedDocument, err)
	}

	records := make([]address.Record, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		raw := strings.TrimSpace(f.Properties.Adresse)
		id := strings.TrimSpace(string(f.ID))
		if raw == "" || id == "" {
			skipped++
			continue
		}
		street, number := address.SplitStreet(raw)
		records = append(records, address.Record{
			RawText:    raw,
			LocationID: id,
			Fields: address.Fields{
				Street:      street,
				HouseNumber: number,
				PostalCode:  strings.TrimSpace(string(f.Properties.PLZ)),
				District:    strings.TrimSpace(f.Properties.Stadtteil),
			},
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: address catalogue has no usable features", pickup.ErrMalformedDocument)
	}
	c.logger.WithFields(logrus.Fields{"records": len(records), "skipped": skipped}).Info("Address catalogue downloaded")
	return records, nil
}
