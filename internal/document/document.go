package document

import (
	"encoding/json"
	"fmt"
)

// Document is a corpus entry as held by the vector store: opaque text
// content, an embedding vector, and metadata.
type Document struct {
	DocID     string    `json:"doc_id"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Metadata carries the recognized document metadata fields. Keys the
// core does not interpret are preserved in Extra so they round-trip
// through storage and quarantine snapshots unchanged.
type Metadata struct {
	Source        string
	Category      string
	Filename      string
	CVEIDs        string
	IsQuarantined bool
	QuarantineID  string

	Extra map[string]interface{}
}

// EffectiveSource returns the source field, defaulting to "unknown"
// when ingestion supplied none.
func (m Metadata) EffectiveSource() string {
	if m.Source == "" {
		return "unknown"
	}
	return m.Source
}

// MarshalJSON flattens the recognized fields and any extra keys into a
// single JSON object, matching the open-map shape used on disk.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 6+len(m.Extra))
	for k, v := range m.Extra {
		out[k] = v
	}
	out["source"] = m.Source
	out["category"] = m.Category
	out["filename"] = m.Filename
	out["cve_ids"] = m.CVEIDs
	out["is_quarantined"] = m.IsQuarantined
	out["quarantine_id"] = m.QuarantineID
	return json.Marshal(out)
}

// UnmarshalJSON picks the recognized fields out of an open map and
// stashes everything else in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Metadata{}
	for key, val := range raw {
		var err error
		switch key {
		case "source":
			err = json.Unmarshal(val, &m.Source)
		case "category":
			err = json.Unmarshal(val, &m.Category)
		case "filename":
			err = json.Unmarshal(val, &m.Filename)
		case "cve_ids":
			err = json.Unmarshal(val, &m.CVEIDs)
		case "is_quarantined":
			err = json.Unmarshal(val, &m.IsQuarantined)
		case "quarantine_id":
			err = json.Unmarshal(val, &m.QuarantineID)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]interface{})
			}
			var v interface{}
			if err = json.Unmarshal(val, &v); err == nil {
				m.Extra[key] = v
			}
		}
		if err != nil {
			return fmt.Errorf("metadata field %q: %w", key, err)
		}
	}
	return nil
}
