package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
)

// metadataView is the subset of dataset fields covered by the metadata hash:
// the descriptive block a producer declares, not server-managed state.
type metadataView struct {
	Title         string                `json:"title"`
	Author        string                `json:"author"`
	Organization  string                `json:"organization,omitempty"`
	Email         string                `json:"email"`
	Comment       string                `json:"comment,omitempty"`
	Description   string                `json:"description,omitempty"`
	Keywords      []string              `json:"keywords,omitempty"`
	Timestamp     string                `json:"timestamp,omitempty"`
	DOI           string                `json:"doi,omitempty"`
	License       string                `json:"license,omitempty"`
	ModelVersion  string                `json:"modelVersion"`
	ContainerType dataset.ContainerType `json:"containerType"`
}

// MetadataHash returns the SHA-256 of the RFC 8785 canonical JSON form of the
// dataset's descriptive metadata. It is recorded in audit events so metadata
// tampering is detectable even though metadata is not part of the content
// digest.
func MetadataHash(d *dataset.Dataset) (string, error) {
	raw, err := json.Marshal(metadataView{
		Title:         d.Title,
		Author:        d.Author,
		Organization:  d.Organization,
		Email:         d.Email,
		Comment:       d.Comment,
		Description:   d.Description,
		Keywords:      d.Keywords,
		Timestamp:     d.Timestamp,
		DOI:           d.DOI,
		License:       d.License,
		ModelVersion:  d.ModelVersion,
		ContainerType: d.ContainerType,
	})
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize metadata: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
