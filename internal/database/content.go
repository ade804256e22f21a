package database

import (
	"encoding/json"

	"github.com/snarg/subtitle-engine/internal/subtitle"
)

// encodeContent marshals segments for the content jsonb column. A nil slice
// is stored as [] so the column always holds an array.
func encodeContent(segs []subtitle.Segment) ([]byte, error) {
	if segs == nil {
		segs = []subtitle.Segment{}
	}
	return json.Marshal(segs)
}

// decodeContent reads the content jsonb column. Null and empty values decode
// to an empty, non-nil slice.
func decodeContent(raw []byte) ([]subtitle.Segment, error) {
	segs := []subtitle.Segment{}
	if len(raw) == 0 || string(raw) == "null" {
		return segs, nil
	}
	if err := json.Unmarshal(raw, &segs); err != nil {
		return nil, err
	}
	return segs, nil
}
