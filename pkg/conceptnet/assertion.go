package conceptnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tinkermonkey/conceptnet-compose/internal/util"
)

// FieldSeparator separates the columns of an assertion line.
const FieldSeparator = "\t"

// DefaultWeight is used when an assertion carries no weight.
const DefaultWeight = 1.0

var (
	ErrMalformedLine = errors.New("malformed assertion line")
	ErrTooFewFields  = fmt.Errorf("%w: fewer than 4 fields", ErrMalformedLine)
	ErrEmptyField    = fmt.Errorf("%w: empty uri field", ErrMalformedLine)
	ErrBadMetadata   = fmt.Errorf("%w: invalid metadata", ErrMalformedLine)
)

// Source is one provenance record of an assertion, e.g.
// {"contributor": "/s/contributor/omcs/dev", "process": "/s/process/split_words"}.
type Source map[string]string

// Values returns the provenance values ordered by key, so callers that
// allocate IDs from them do so deterministically.
func (s Source) Values() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := s[k]; v != "" {
			values = append(values, v)
		}
	}
	return values
}

// Metadata is the JSON object carried in the fifth column. Only the known
// fields are kept; anything else in the object is ignored.
type Metadata struct {
	Weight       *float64 `json:"weight"`
	Dataset      *string  `json:"dataset"`
	License      *string  `json:"license"`
	Sources      []Source `json:"sources"`
	SurfaceText  *string  `json:"surfaceText"`
	SurfaceStart *string  `json:"surfaceStart"`
	SurfaceEnd   *string  `json:"surfaceEnd"`
}

// Assertion is one parsed input record describing a single edge.
type Assertion struct {
	URI      string
	Relation string
	Start    string
	End      string
	Weight   float64
	Metadata Metadata
}

// HasSources reports whether the metadata carried a sources list, even an empty one.
func (a Assertion) HasSources() bool {
	return a.Metadata.Sources != nil
}

// ProvenanceValues returns every value of every source record, in record order.
func (a Assertion) ProvenanceValues() []string {
	var out []string
	for _, src := range a.Metadata.Sources {
		out = append(out, src.Values()...)
	}
	return out
}

// ParseAssertion decodes one tab-separated line:
//
//	edge-uri  relation-uri  start-uri  end-uri  [metadata-json]
//
// Columns after the fifth are ignored. Errors wrap ErrMalformedLine.
func ParseAssertion(line string) (Assertion, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.SplitN(line, FieldSeparator, 6)
	if len(fields) < 4 {
		return Assertion{}, ErrTooFewFields
	}

	a := Assertion{
		URI:      util.SanitizeURI(fields[0]),
		Relation: util.SanitizeURI(fields[1]),
		Start:    util.SanitizeURI(fields[2]),
		End:      util.SanitizeURI(fields[3]),
		Weight:   DefaultWeight,
	}
	if a.URI == "" || a.Relation == "" || a.Start == "" || a.End == "" {
		return Assertion{}, ErrEmptyField
	}

	if len(fields) > 4 && strings.TrimSpace(fields[4]) != "" {
		meta, err := parseMetadata(fields[4])
		if err != nil {
			return Assertion{}, err
		}
		a.Metadata = meta
		if meta.Weight != nil {
			a.Weight = *meta.Weight
		}
	}

	return a, nil
}

func parseMetadata(raw string) (Metadata, error) {
	var meta Metadata
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}
	if dec.More() {
		return Metadata{}, fmt.Errorf("%w: trailing data after object", ErrBadMetadata)
	}

	// Escaped \u0000 survives decoding and is rejected by jsonb.
	for _, field := range []*string{meta.Dataset, meta.License, meta.SurfaceText, meta.SurfaceStart, meta.SurfaceEnd} {
		if field != nil {
			*field = util.SanitizePostgresText(*field)
		}
	}
	for i, src := range meta.Sources {
		clean := make(Source, len(src))
		for k, v := range src {
			clean[util.SanitizePostgresText(k)] = util.SanitizePostgresText(v)
		}
		meta.Sources[i] = clean
	}
	return meta, nil
}
