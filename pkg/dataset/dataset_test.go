package dataset_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
)

func TestValidateMetadata(t *testing.T) {
	valid := &dataset.Dataset{
		Title:         "Holography run 42",
		Author:        "A. Researcher",
		Email:         "a.researcher@example.org",
		ContainerType: dataset.ContainerType{Name: "measurement"},
	}
	assert.NoError(t, dataset.ValidateMetadata(valid))

	missing := &dataset.Dataset{Email: "a@example.org", ContainerType: dataset.ContainerType{Name: "x"}}
	err := dataset.ValidateMetadata(missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrValidation)
	assert.Contains(t, err.Error(), "title")
	assert.Contains(t, err.Error(), "author")

	badMail := &dataset.Dataset{
		Title:         "t",
		Author:        "a",
		Email:         "not-an-address",
		ContainerType: dataset.ContainerType{Name: "x"},
	}
	assert.ErrorIs(t, dataset.ValidateMetadata(badMail), dataset.ErrValidation)
}

func TestTotalSize(t *testing.T) {
	d := &dataset.Dataset{Content: []dataset.FileEntry{
		{Name: "a.txt", Size: 10},
		{Name: "b.bin", Size: 32},
	}}
	assert.Equal(t, int64(42), d.TotalSize())
}

func TestClone_Isolation(t *testing.T) {
	d := &dataset.Dataset{
		ID:       "ds-1",
		Keywords: []string{"laser"},
		Content: []dataset.FileEntry{
			{Name: "meta.json", Size: 3, Preview: json.RawMessage(`{}`)},
		},
	}
	cp := d.Clone()
	cp.Keywords[0] = "changed"
	cp.Content[0].Name = "other.json"
	cp.Content[0].Preview[0] = 'X'

	assert.Equal(t, "laser", d.Keywords[0])
	assert.Equal(t, "meta.json", d.Content[0].Name)
	assert.Equal(t, byte('{'), d.Content[0].Preview[0])
}
