// Package dataset defines the domain model for scientific data containers
// tracked by the registry: one Dataset per container version, an ordered file
// manifest, and the permission/chain vocabulary shared by the storage and
// authorization layers.
package dataset

import (
	"encoding/json"
	"time"
)

// ContainerType identifies the container format declared by the producer.
type ContainerType struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	ID      string `json:"id,omitempty"`
}

// Software records one tool listed in the container's usedSoftware block.
type Software struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	ID      string `json:"id,omitempty"`
	IDType  string `json:"idType,omitempty"`
}

// FileEntry is one member of a dataset's file manifest. Content bytes live in
// the blob store under ContentRef; Preview optionally caches small JSON
// members inline so clients can render them without a blob round trip.
// Preview bytes are never part of the content digest.
type FileEntry struct {
	Name       string          `json:"name"`
	Size       int64           `json:"size"`
	ContentRef string          `json:"contentRef"`
	Preview    json.RawMessage `json:"preview,omitempty"`
}

// Dataset is one version of a scientific data container. Descriptive metadata
// is immutable once Complete is true; Invalidated is a monotonic tombstone.
type Dataset struct {
	ID string `json:"id"`

	// Descriptive metadata (meta.json).
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	Organization string   `json:"organization,omitempty"`
	Email        string   `json:"email"`
	Comment      string   `json:"comment,omitempty"`
	Description  string   `json:"description,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	Timestamp    string   `json:"timestamp,omitempty"`
	DOI          string   `json:"doi,omitempty"`
	License      string   `json:"license,omitempty"`

	// Container bookkeeping (content.json).
	Owner         string        `json:"owner"`
	ModelVersion  string        `json:"modelVersion"`
	ContainerType ContainerType `json:"containerType"`
	UsedSoftware  []Software    `json:"usedSoftware,omitempty"`
	Created       time.Time     `json:"created,omitempty"`
	Modified      time.Time     `json:"modified,omitempty"`
	StorageTime   time.Time     `json:"storageTime,omitempty"`
	Static        bool          `json:"static"`

	// Server-managed state.
	Size        int64       `json:"size"`
	UploadTime  time.Time   `json:"uploadTime"`
	Complete    bool        `json:"complete"`
	Hash        string      `json:"hash,omitempty"`
	Replaces    string      `json:"replaces,omitempty"`
	Content     []FileEntry `json:"content"`
	Invalidated bool        `json:"invalidated"`
}

// TotalSize sums the manifest entry sizes. The cached Size field is refreshed
// from this at completion time.
func (d *Dataset) TotalSize() int64 {
	var total int64
	for _, e := range d.Content {
		total += e.Size
	}
	return total
}

// Clone returns a deep copy so callers can hand out read snapshots without
// exposing registry-internal state to mutation.
func (d *Dataset) Clone() *Dataset {
	cp := *d
	if d.Keywords != nil {
		cp.Keywords = append([]string(nil), d.Keywords...)
	}
	if d.UsedSoftware != nil {
		cp.UsedSoftware = append([]Software(nil), d.UsedSoftware...)
	}
	if d.Content != nil {
		cp.Content = make([]FileEntry, len(d.Content))
		for i, e := range d.Content {
			cp.Content[i] = e
			if e.Preview != nil {
				cp.Content[i].Preview = append(json.RawMessage(nil), e.Preview...)
			}
		}
	}
	return &cp
}
