package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldEmail    FieldType = "email"
	FieldNumber   FieldType = "number"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
	FieldFile     FieldType = "file"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldTextarea, FieldEmail, FieldNumber, FieldSelect, FieldCheckbox, FieldFile:
		return true
	}
	return false
}

// FieldDescriptor is one organizer defined input of an event intake form.
type FieldDescriptor struct {
	ID          string    `json:"id,omitempty"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Options     string    `json:"options,omitempty"` // newline delimited, select/checkbox only
	Placeholder string    `json:"placeholder,omitempty"`
}

// StorageKey is the key answers for this field are persisted under.
// Descriptors created before ids were assigned fall back to their label.
func (f FieldDescriptor) StorageKey() string {
	if f.ID != "" {
		return f.ID
	}
	return f.Label
}

// OptionList splits Options into trimmed, non-empty choices.
func (f FieldDescriptor) OptionList() []string {
	if f.Options == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(f.Options, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// FormValue is either a single answer or the list of values of a multi-select field.
type FormValue struct {
	scalar string
	multi  []string
	isList bool
}

func ScalarValue(v string) FormValue {
	return FormValue{scalar: v}
}

func MultiValue(v []string) FormValue {
	cp := make([]string, len(v))
	copy(cp, v)
	return FormValue{multi: cp, isList: true}
}

func (v FormValue) IsMulti() bool {
	return v.isList
}

// Values returns the answer as a list; a scalar yields a single element.
func (v FormValue) Values() []string {
	if v.isList {
		cp := make([]string, len(v.multi))
		copy(cp, v.multi)
		return cp
	}
	return []string{v.scalar}
}

func (v FormValue) String() string {
	if v.isList {
		return strings.Join(v.multi, ", ")
	}
	return v.scalar
}

func (v FormValue) MarshalJSON() ([]byte, error) {
	if v.isList {
		if v.multi == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.multi)
	}
	return json.Marshal(v.scalar)
}

func (v *FormValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("form value list: %w", err)
		}
		*v = MultiValue(list)
		return nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("form value: %w", err)
	}
	switch t := raw.(type) {
	case string:
		*v = ScalarValue(t)
	case float64, bool:
		// numbers and booleans stored by older clients are kept as their literal text
		*v = ScalarValue(string(data))
	default:
		return fmt.Errorf("form value: unsupported json %s", string(data))
	}
	return nil
}

// FormData maps a field storage key to the submitted answer.
type FormData map[string]FormValue

// FileAttachment describes one stored upload.
type FileAttachment struct {
	OriginalName string `json:"original_name"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
}

// UploadedFiles maps a field storage key to its attachments. A single attachment
// is encoded as an object, several as an array.
type UploadedFiles map[string][]FileAttachment

func (u UploadedFiles) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u))
	for k, files := range u {
		if len(files) == 1 {
			out[k] = files[0]
			continue
		}
		out[k] = files
	}
	return json.Marshal(out)
}

func (u *UploadedFiles) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("uploaded files: %w", err)
	}

	res := make(UploadedFiles, len(raw))
	for k, msg := range raw {
		msg = bytes.TrimSpace(msg)
		if len(msg) > 0 && msg[0] == '[' {
			var files []FileAttachment
			if err := json.Unmarshal(msg, &files); err != nil {
				return fmt.Errorf("uploaded files %q: %w", k, err)
			}
			res[k] = files
			continue
		}
		var file FileAttachment
		if err := json.Unmarshal(msg, &file); err != nil {
			return fmt.Errorf("uploaded files %q: %w", k, err)
		}
		res[k] = []FileAttachment{file}
	}
	*u = res
	return nil
}

// Paths lists every stored path, used to clean up after a failed submission.
func (u UploadedFiles) Paths() []string {
	var paths []string
	for _, files := range u {
		for _, f := range files {
			paths = append(paths, f.Path)
		}
	}
	return paths
}
