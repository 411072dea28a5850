package forms

import (
	"strings"
	"testing"

	"registration-system/internal/status"
	"registration-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSchema(t *testing.T) {
	tests := []struct {
		name    string
		fields  []models.FieldDescriptor
		wantErr bool
	}{
		{"empty schema", nil, false},
		{"valid", []models.FieldDescriptor{
			{Label: "Name", Type: models.FieldText, Required: true},
			{Label: "Email", Type: models.FieldEmail},
		}, false},
		{"blank label", []models.FieldDescriptor{{Label: "  ", Type: models.FieldText}}, true},
		{"unknown type", []models.FieldDescriptor{{Label: "Name", Type: "date"}}, true},
		{"label without letters", []models.FieldDescriptor{{Label: "???", Type: models.FieldText}}, true},
		{"colliding labels", []models.FieldDescriptor{
			{Label: "E-mail", Type: models.FieldEmail},
			{Label: "e mail", Type: models.FieldText},
		}, true},
		{"duplicate ids", []models.FieldDescriptor{
			{ID: "fld_1", Label: "A", Type: models.FieldText},
			{ID: "fld_1", Label: "B", Type: models.FieldText},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSchema(tt.fields)
			if tt.wantErr {
				assert.ErrorIs(t, err, status.ErrInvalidSchema)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssignFieldIDs(t *testing.T) {
	in := []models.FieldDescriptor{
		{ID: "fld_keep", Label: "Name", Type: models.FieldText},
		{Label: "Email", Type: models.FieldEmail},
		{Label: "Phone", Type: models.FieldText},
	}

	out := AssignFieldIDs(in)
	require.Len(t, out, 3)

	assert.Equal(t, "fld_keep", out[0].ID)
	assert.True(t, strings.HasPrefix(out[1].ID, "fld_"))
	assert.Len(t, out[1].ID, len("fld_")+12)
	assert.NotEqual(t, out[1].ID, out[2].ID)
	assert.Empty(t, in[1].ID, "input slice must not be modified")
	assert.NoError(t, CheckSchema(out))
}
