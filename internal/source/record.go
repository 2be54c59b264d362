package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"revshare-ledger-go/internal/models"
)

// timestampLayouts are the timestamp shapes the legacy source has been seen
// to send. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// wireRecord is an order exactly as it appears on the wire. Ids, amounts and
// refs may be strings or numbers depending on which legacy writer produced
// the row.
type wireRecord struct {
	Id           looseString `json:"id"`
	BuyerRef     looseString `json:"buyer_ref"`
	Amount       looseString `json:"amount"`
	Status       looseString `json:"status"`
	ItemRef      looseString `json:"item_ref"`
	AffiliateRef looseString `json:"affiliate_ref"`
	CreatedAt    looseTime   `json:"created_at"`
	UpdatedAt    looseTime   `json:"updated_at"`
}

// decodeRecord reads one order. A record that cannot be read comes back
// with Malformed set and whatever id could be recovered, so the rest of
// the page still imports.
func decodeRecord(raw json.RawMessage) models.SourceRecord {
	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.SourceRecord{Id: recoverId(raw), Malformed: err.Error()}
	}
	return models.SourceRecord{
		Id:           string(w.Id),
		BuyerRef:     string(w.BuyerRef),
		Amount:       string(w.Amount),
		Status:       string(w.Status),
		ItemRef:      string(w.ItemRef),
		AffiliateRef: string(w.AffiliateRef),
		CreatedAt:    time.Time(w.CreatedAt),
		UpdatedAt:    time.Time(w.UpdatedAt),
	}
}

func recoverId(raw json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	var id looseString
	if err := json.Unmarshal(fields["id"], &id); err != nil {
		return ""
	}
	return string(id)
}

// looseString accepts a JSON string, a number or null.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
		return nil
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a string or a number, got %s", data)
	}
	*s = looseString(n.String())
	return nil
}

// looseTime accepts the layouts in timestampLayouts, unix seconds as a
// number, or null.
type looseTime time.Time

func (t *looseTime) UnmarshalJSON(data []byte) error {
	var raw looseString
	if err := raw.UnmarshalJSON(data); err != nil {
		return err
	}
	value := strings.TrimSpace(string(raw))
	if value == "" {
		*t = looseTime{}
		return nil
	}

	if data[0] != '"' {
		secs, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("unreadable unix timestamp %s", value)
		}
		*t = looseTime(time.Unix(secs, 0).UTC())
		return nil
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			*t = looseTime(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("unreadable timestamp %q", value)
}
