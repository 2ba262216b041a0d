package models

import "time"

// MetadataRecord holds tags and custom metadata for one key.
//
// Timestamps are nil for the default-empty record returned when nothing is stored.
type MetadataRecord struct {
	NamespaceID    string         `json:"namespace_id"`
	KeyName        string         `json:"key_name"`
	Tags           []string       `json:"tags"`
	CustomMetadata map[string]any `json:"custom_metadata"`
	CreatedAt      *time.Time     `json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `json:"updated_at,omitempty"`
}

// EmptyMetadata returns the default record for a key with no stored metadata.
func EmptyMetadata(namespaceID, keyName string) *MetadataRecord {
	return &MetadataRecord{
		NamespaceID:    namespaceID,
		KeyName:        keyName,
		Tags:           []string{},
		CustomMetadata: map[string]any{},
	}
}

// MetadataUpdate carries the fields of an upsert. A nil field is left untouched.
type MetadataUpdate struct {
	Tags           []string       `json:"tags"`
	CustomMetadata map[string]any `json:"custom_metadata"`
}

// Empty reports whether u supplies no fields.
func (u MetadataUpdate) Empty() bool {
	return u.Tags == nil && u.CustomMetadata == nil
}

// SearchQuery filters metadata records. Empty fields are ignored.
type SearchQuery struct {
	Query       string
	NamespaceID string
	Tags        []string
	Limit       int
}

// SearchResult is a metadata record as returned by search.
type SearchResult struct {
	NamespaceID    string         `json:"namespace_id"`
	KeyName        string         `json:"key_name"`
	Tags           []string       `json:"tags"`
	CustomMetadata map[string]any `json:"custom_metadata"`
}
