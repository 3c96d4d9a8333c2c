package cms

import (
	"github.com/tidwall/gjson"

	"finitefield.org/university-web/internal/localize"
)

// Page is a normalized collection response. Count, Next and Previous are only
// populated for envelope responses.
type Page struct {
	Records  []localize.Record
	Count    int64
	Next     string
	Previous string
}

// normalizeCollection accepts a bare array, a {"results": [...]} envelope or a
// single object and returns the records in order. dropped counts non-object
// array elements that were skipped.
func normalizeCollection(body []byte) (page Page, dropped int, err error) {
	if !gjson.ValidBytes(body) {
		return Page{}, 0, &MalformedResponseError{Reason: "invalid JSON"}
	}
	doc := gjson.ParseBytes(body)

	switch {
	case doc.IsArray():
		page.Records, dropped = recordsFrom(doc)
		page.Count = int64(len(page.Records))
		return page, dropped, nil

	case doc.IsObject():
		results := doc.Get("results")
		if !results.Exists() {
			rec, _ := recordFrom(doc)
			page.Records = []localize.Record{rec}
			page.Count = 1
			return page, 0, nil
		}
		switch {
		case results.IsArray():
			page.Records, dropped = recordsFrom(results)
		case results.Type == gjson.Null:
			page.Records = []localize.Record{}
		default:
			return Page{}, 0, &MalformedResponseError{Reason: "results is not an array"}
		}
		page.Count = int64(len(page.Records))
		if count := doc.Get("count"); count.Type == gjson.Number {
			page.Count = count.Int()
		}
		page.Next = doc.Get("next").String()
		page.Previous = doc.Get("previous").String()
		return page, dropped, nil
	}

	// scalars and null carry no records
	page.Records = []localize.Record{}
	return page, 0, nil
}

// normalizeEntity requires the body to be a single JSON object.
func normalizeEntity(body []byte) (localize.Record, error) {
	if !gjson.ValidBytes(body) {
		return nil, &MalformedResponseError{Reason: "invalid JSON"}
	}
	doc := gjson.ParseBytes(body)
	rec, ok := recordFrom(doc)
	if !ok {
		return nil, &MalformedResponseError{Reason: "expected a single object"}
	}
	return rec, nil
}

func recordsFrom(arr gjson.Result) ([]localize.Record, int) {
	items := arr.Array()
	out := make([]localize.Record, 0, len(items))
	dropped := 0
	for _, item := range items {
		rec, ok := recordFrom(item)
		if !ok {
			dropped++
			continue
		}
		out = append(out, rec)
	}
	return out, dropped
}

func recordFrom(res gjson.Result) (localize.Record, bool) {
	if !res.IsObject() {
		return nil, false
	}
	m, ok := res.Value().(map[string]interface{})
	if !ok {
		return nil, false
	}
	return localize.Record(m), true
}
