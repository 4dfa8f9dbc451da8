package telephony

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
)

var errUnexpectedPayload = errors.New("unexpected call history payload")

// parseCallHistory accepts a bare JSON array or an object wrapping the list.
func parseCallHistory(body []byte) ([]CDR, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errUnexpectedPayload
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		found := false
		for _, k := range []string{"call_history", "calls", "items", "data", "results"} {
			if raw, ok := obj[k]; ok {
				if err := json.Unmarshal(raw, &items); err != nil {
					return nil, err
				}
				found = true
				break
			}
		}
		if !found {
			return nil, errUnexpectedPayload
		}
	default:
		return nil, errUnexpectedPayload
	}

	out := make([]CDR, 0, len(items))
	for _, raw := range items {
		rec, err := parseRecord(raw)
		if err != nil {
			return nil, err
		}
		if rec.ProviderCallID == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

type record map[string]json.RawMessage

func parseRecord(raw json.RawMessage) (CDR, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return CDR{}, err
	}
	c := CDR{
		ProviderCallID:  r.strField("call_uuid", "uuid", "id"),
		From:            r.strField("from_number", "from_username", "ani_number", "from"),
		To:              r.strField("to_number", "to_username", "dest_number", "to"),
		StartedAt:       r.timeField("start_time_gmt", "start_time", "init_time_gmt"),
		EndedAt:         r.timeField("end_time_gmt", "end_time", "hangup_time_gmt"),
		DurationSeconds: r.intField("duration", "bridged_duration"),
		RecordRef:       r.strField("record_uuid", "recording_uuid"),
		Disposition:     r.strField("result", "hangup_cause", "status"),
		Raw:             string(raw),
	}
	if v, ok := r.boolField("has_record", "has_recording"); ok {
		c.HasRecord = v && c.RecordRef != ""
	} else {
		c.HasRecord = c.RecordRef != ""
	}
	if c.DurationSeconds == 0 && c.StartedAt != nil && c.EndedAt != nil && c.EndedAt.After(*c.StartedAt) {
		c.DurationSeconds = int(c.EndedAt.Sub(*c.StartedAt).Seconds())
	}
	return c, nil
}

func (r record) strField(keys ...string) string {
	for _, k := range keys {
		raw, ok := r[k]
		if !ok || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

func (r record) intField(keys ...string) int {
	for _, k := range keys {
		s := r.strField(k)
		if s == "" {
			continue
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
	}
	return 0
}

func (r record) boolField(keys ...string) (bool, bool) {
	for _, k := range keys {
		raw, ok := r[k]
		if !ok || string(raw) == "null" {
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b, true
		}
		switch strings.ToLower(r.strField(k)) {
		case "1", "true", "yes":
			return true, true
		case "0", "false", "no":
			return false, true
		}
	}
	return false, false
}

var timeLayouts = []string{time.RFC3339Nano, telfinTimeLayout, "2006-01-02T15:04:05"}

// timeField parses provider timestamps; layouts without a zone are read as UTC.
func (r record) timeField(keys ...string) *time.Time {
	for _, k := range keys {
		s := r.strField(k)
		if s == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

// NormalizePhone formats raw as E.164 when it parses as a valid number in region.
// Short extensions and anything unparsable are returned trimmed.
func NormalizePhone(raw, region string) string {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) < 6 {
		return s
	}
	if region == "" {
		region = "RU"
	}
	num, err := phonenumbers.Parse(s, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return s
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
