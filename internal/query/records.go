package query

import (
	"encoding/json"
	"strings"
)

// localizedText decodes a dump text column. Recent dumps store a list of
// {lang, text} pairs; older ones a plain string.
func localizedText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return ""
	}

	var plain string
	if err := json.Unmarshal([]byte(raw), &plain); err == nil {
		return plain
	}

	var entries []struct {
		Lang string `json:"lang"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return raw
	}

	best := ""
	for _, e := range entries {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		switch e.Lang {
		case "main":
			return e.Text
		case "en":
			best = e.Text
		default:
			if best == "" {
				best = e.Text
			}
		}
	}
	return best
}

// stringList decodes a JSON array of strings, ignoring anything else
func stringList(raw string) []string {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// nutrimentMap flattens the dump's nutriment rows
// ({name, 100g, serving, unit, ...}) into the API layout
// ("sugars_100g", "sugars_serving"). An object is taken as already flat.
func nutrimentMap(raw string) map[string]interface{} {
	out := make(map[string]interface{})
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return out
	}

	var flat map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &flat); err == nil {
		return flat
	}

	var rows []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return out
	}

	for _, row := range rows {
		name, _ := row["name"].(string)
		if name == "" {
			continue
		}
		for _, suffix := range []string{"100g", "serving"} {
			if v, ok := row[suffix]; ok && v != nil {
				out[name+"_"+suffix] = v
			}
		}
		if unit, ok := row["unit"].(string); ok && unit != "" {
			out[name+"_unit"] = unit
		}
	}
	return out
}
