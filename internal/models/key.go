package models

// KeyRecord is a single key as exported from or imported into a namespace.
type KeyRecord struct {
	Name          string         `json:"name"`
	Value         string         `json:"value"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ExpirationTTL *int           `json:"expiration_ttl,omitempty"`
}

// ExportRecord is the serialized export shape; metadata is always present.
type ExportRecord struct {
	Name     string         `json:"name"`
	Value    string         `json:"value"`
	Metadata map[string]any `json:"metadata"`
}

// ToExport converts r to its export shape.
func (r KeyRecord) ToExport() ExportRecord {
	md := r.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return ExportRecord{Name: r.Name, Value: r.Value, Metadata: md}
}

// BulkWriteItem is the store's bulk write item. Metadata and TTL are sent only when present.
type BulkWriteItem struct {
	Key           string         `json:"key"`
	Value         string         `json:"value"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ExpirationTTL *int           `json:"expiration_ttl,omitempty"`
}

// ToBulkWrite converts r to the store's bulk write shape. A zero TTL is dropped.
func (r KeyRecord) ToBulkWrite() BulkWriteItem {
	ttl := r.ExpirationTTL
	if ttl != nil && *ttl == 0 {
		ttl = nil
	}
	return BulkWriteItem{
		Key:           r.Name,
		Value:         r.Value,
		Metadata:      r.Metadata,
		ExpirationTTL: ttl,
	}
}
