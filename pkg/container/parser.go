// Package container parses ZDC scientific data containers: ZIP archives
// carrying a content.json (format bookkeeping), a meta.json (descriptive
// metadata), and the payload files. The parser validates both descriptor
// documents against JSON Schemas, enforces the minimum supported model
// version, and maps the camelCase wire keys onto the dataset model.
package container

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
)

// MinModelVersion is the oldest container model version the server accepts.
var MinModelVersion = semver.MustParse("0.3")

// Descriptor documents every ZDC container must carry.
const (
	contentJSONName = "content.json"
	metaJSONName    = "meta.json"
)

var hdf5Magic = []byte("\x89HDF\r\n\x1a\n")

// File is one payload member extracted from a container.
type File struct {
	Name string
	Data []byte
}

// Parsed is the result of reading a container: the dataset metadata as
// declared by the producer (no server-managed state) and the payload files.
type Parsed struct {
	Dataset  *dataset.Dataset
	Replaces string // predecessor id declared in content.json, "" if none
	Hash     string // content digest claimed by the producer, "" if absent
	Files    []File
}

type contentDoc struct {
	UUID          string                `json:"uuid"`
	Replaces      string                `json:"replaces"`
	ContainerType dataset.ContainerType `json:"containerType"`
	Created       string                `json:"created"`
	Modified      string                `json:"modified"`
	StorageTime   string                `json:"storageTime"`
	Static        bool                  `json:"static"`
	Complete      bool                  `json:"complete"`
	Hash          string                `json:"hash"`
	UsedSoftware  []dataset.Software    `json:"usedSoftware"`
	ModelVersion  string                `json:"modelVersion"`
}

type metaDoc struct {
	Author       string   `json:"author"`
	Email        string   `json:"email"`
	Organization string   `json:"organization"`
	Comment      string   `json:"comment"`
	Title        string   `json:"title"`
	Keywords     []string `json:"keywords"`
	Description  string   `json:"description"`
	Timestamp    string   `json:"timestamp"`
	DOI          string   `json:"doi"`
	License      string   `json:"license"`
}

var (
	contentValidator *jsonschema.Schema
	metaValidator    *jsonschema.Schema
)

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("content.schema.json", strings.NewReader(contentSchema)); err != nil {
		panic(err)
	}
	if err := compiler.AddResource("meta.schema.json", strings.NewReader(metaSchema)); err != nil {
		panic(err)
	}
	contentValidator = compiler.MustCompile("content.schema.json")
	metaValidator = compiler.MustCompile("meta.schema.json")
}

// Parse reads a container from raw bytes. HDF5 containers are recognized and
// rejected explicitly; everything else must be a ZIP archive.
func Parse(data []byte) (*Parsed, error) {
	if bytes.HasPrefix(data, hdf5Magic) {
		return nil, fmt.Errorf("%w: HDF5 containers are not supported yet", dataset.ErrValidation)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: container is not a ZIP archive: %v", dataset.ErrValidation, err)
	}

	var content contentDoc
	if err := readValidated(zr, contentJSONName, contentValidator, &content); err != nil {
		return nil, err
	}
	if err := checkModelVersion(content.ModelVersion); err != nil {
		return nil, err
	}

	var meta metaDoc
	if err := readValidated(zr, metaJSONName, metaValidator, &meta); err != nil {
		return nil, err
	}

	ds := &dataset.Dataset{
		ID:            content.UUID,
		Title:         meta.Title,
		Author:        meta.Author,
		Organization:  meta.Organization,
		Email:         meta.Email,
		Comment:       meta.Comment,
		Description:   meta.Description,
		Keywords:      meta.Keywords,
		Timestamp:     meta.Timestamp,
		DOI:           meta.DOI,
		License:       meta.License,
		ModelVersion:  content.ModelVersion,
		ContainerType: content.ContainerType,
		UsedSoftware:  content.UsedSoftware,
		Static:        content.Static,
	}
	if ds.Created, err = parseTime(content.Created); err != nil {
		return nil, fmt.Errorf("%w: content.json created: %v", dataset.ErrValidation, err)
	}
	if ds.Modified, err = parseTime(content.Modified); err != nil {
		return nil, fmt.Errorf("%w: content.json modified: %v", dataset.ErrValidation, err)
	}
	if content.StorageTime != "" {
		if ds.StorageTime, err = parseTime(content.StorageTime); err != nil {
			return nil, fmt.Errorf("%w: content.json storageTime: %v", dataset.ErrValidation, err)
		}
	}

	files, err := extractFiles(zr)
	if err != nil {
		return nil, err
	}

	return &Parsed{
		Dataset:  ds,
		Replaces: content.Replaces,
		Hash:     content.Hash,
		Files:    files,
	}, nil
}

func readValidated(zr *zip.Reader, name string, schema *jsonschema.Schema, out any) error {
	f, err := zr.Open(name)
	if err != nil {
		return fmt.Errorf("%w: container is missing %s", dataset.ErrValidation, name)
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("%w: %s is not valid JSON: %v", dataset.ErrValidation, name, err)
	}
	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("%w: %s: %v", dataset.ErrValidation, name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", dataset.ErrValidation, name, err)
	}
	return nil
}

func checkModelVersion(v string) error {
	declared, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: modelVersion %q is not a version string", dataset.ErrValidation, v)
	}
	if declared.LessThan(MinModelVersion) {
		return fmt.Errorf("%w: container model version %s is older than the minimum supported %s",
			dataset.ErrValidation, declared, MinModelVersion)
	}
	return nil
}

// extractFiles collects the payload members. The two descriptor documents
// are not part of the payload: their data lives on the dataset record, and
// content.json carries the content hash, which cannot cover itself.
func extractFiles(zr *zip.Reader) ([]File, error) {
	var out []File
	for _, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}
		if member.Name == contentJSONName || member.Name == metaJSONName {
			continue
		}
		r, err := member.Open()
		if err != nil {
			return nil, fmt.Errorf("open member %q: %w", member.Name, err)
		}
		data, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return nil, fmt.Errorf("read member %q: %w", member.Name, err)
		}

		out = append(out, File{Name: member.Name, Data: data})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: container holds no files", dataset.ErrValidation)
	}
	return out, nil
}

// parseTime accepts the ISO 8601 variants observed in real containers.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05 MST",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
