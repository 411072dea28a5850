package forms

import (
	"fmt"
	"strings"

	"registration-system/internal/status"
	"registration-system/models"
	"registration-system/utils"
)

// CheckSchema rejects schemas the validator could not serve unambiguously.
func CheckSchema(fields []models.FieldDescriptor) error {
	names := make(map[string]string, len(fields))
	ids := make(map[string]struct{}, len(fields))

	for i, f := range fields {
		if strings.TrimSpace(f.Label) == "" {
			return fmt.Errorf("%w: field %d has an empty label", status.ErrInvalidSchema, i+1)
		}
		if !f.Type.Valid() {
			return fmt.Errorf("%w: field %q has unknown type %q", status.ErrInvalidSchema, f.Label, f.Type)
		}

		name := ResolveFieldName(f.Label)
		if name == fieldNamePrefix {
			return fmt.Errorf("%w: field %q has no letters or digits", status.ErrInvalidSchema, f.Label)
		}
		if other, ok := names[name]; ok {
			return fmt.Errorf("%w: fields %q and %q resolve to the same input name %q", status.ErrInvalidSchema, other, f.Label, name)
		}
		names[name] = f.Label

		if f.ID != "" {
			if _, ok := ids[f.ID]; ok {
				return fmt.Errorf("%w: duplicate field id %q", status.ErrInvalidSchema, f.ID)
			}
			ids[f.ID] = struct{}{}
		}
	}
	return nil
}

// AssignFieldIDs gives every descriptor without an id a new stable one.
// Existing ids are kept so answers stay attached when labels are edited.
func AssignFieldIDs(fields []models.FieldDescriptor) []models.FieldDescriptor {
	out := make([]models.FieldDescriptor, len(fields))
	for i, f := range fields {
		if f.ID == "" {
			f.ID = "fld_" + utils.RandomHex(6)
		}
		out[i] = f
	}
	return out
}
