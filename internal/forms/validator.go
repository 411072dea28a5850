package forms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/url"
	"path"
	"slices"
	"strings"

	"registration-system/internal/status"
	"registration-system/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// MaxUploadBytes is the platform limit for any file field.
const MaxUploadBytes = 10 << 20

// TermsField is the input every submission must accept, whatever the event schema.
const TermsField = "terms"

const termsMessage = "You must agree to the terms and conditions."

var acceptedValues = []interface{}{"yes", "on", "1", "true"}

// FileStore persists uploaded blobs.
type FileStore interface {
	Save(ctx context.Context, dir, originalName string, r io.Reader) (string, int64, error)
	Remove(ctx context.Context, path string) error
}

// Submission is a validated form whose files have not been written yet.
type Submission struct {
	FormData models.FormData
	files    []pendingFile
}

type pendingFile struct {
	key    string
	header *multipart.FileHeader
}

// HasFiles reports whether Persist has anything to write.
func (s *Submission) HasFiles() bool {
	return len(s.files) > 0
}

type Validator struct {
	files FileStore
}

func NewValidator(files FileStore) *Validator {
	return &Validator{files: files}
}

// Validate checks the raw input against the schema and extracts the answers.
// It never writes anything; failures come back as *status.ValidationError.
func (v *Validator) Validate(schema []models.FieldDescriptor, values url.Values, files map[string][]*multipart.FileHeader) (*Submission, error) {
	verr := status.NewValidationError()
	sub := &Submission{FormData: make(models.FormData)}

	for _, field := range schema {
		name := ResolveFieldName(field.Label)
		rules := fieldRules(field)

		switch field.Type {
		case models.FieldFile:
			header := firstFile(files, name)
			if err := validation.Validate(header, rules...); err != nil {
				verr.Add(name, err.Error())
				continue
			}
			if header != nil {
				sub.files = append(sub.files, pendingFile{key: field.StorageKey(), header: header})
			}

		case models.FieldCheckbox:
			selected := listValue(values, name)
			if err := validation.Validate(selected, rules...); err != nil {
				verr.Add(name, err.Error())
				continue
			}
			if len(selected) > 0 {
				sub.FormData[field.StorageKey()] = models.MultiValue(selected)
			}

		default:
			value := strings.TrimSpace(values.Get(name))
			if err := validation.Validate(value, rules...); err != nil {
				verr.Add(name, err.Error())
				continue
			}
			if value != "" {
				sub.FormData[field.StorageKey()] = models.ScalarValue(value)
			}
		}
	}

	terms := strings.ToLower(strings.TrimSpace(values.Get(TermsField)))
	if err := validation.Validate(terms,
		validation.Required.Error(termsMessage),
		validation.In(acceptedValues...).Error(termsMessage),
	); err != nil {
		verr.Add(TermsField, err.Error())
	}

	if verr.HasErrors() {
		return nil, verr
	}
	return sub, nil
}

func fieldRules(field models.FieldDescriptor) []validation.Rule {
	var rules []validation.Rule
	if field.Required {
		rules = append(rules, validation.Required.Error(fmt.Sprintf("The %s field is required.", field.Label)))
	}

	switch field.Type {
	case models.FieldEmail:
		rules = append(rules, is.EmailFormat.Error(fmt.Sprintf("The %s must be a valid email address.", field.Label)))
	case models.FieldNumber:
		rules = append(rules, is.Float.Error(fmt.Sprintf("The %s must be a number.", field.Label)))
	case models.FieldSelect:
		if opts := field.OptionList(); len(opts) > 0 {
			rules = append(rules, validation.In(toInterfaces(opts)...).Error(fmt.Sprintf("The selected %s is invalid.", field.Label)))
		}
	case models.FieldCheckbox:
		if opts := field.OptionList(); len(opts) > 0 {
			rules = append(rules, validation.By(allIn(opts, field.Label)))
		}
	case models.FieldFile:
		rules = append(rules, validation.By(maxFileSize(field.Label)))
	}
	return rules
}

func maxFileSize(label string) validation.RuleFunc {
	return func(value interface{}) error {
		header, _ := value.(*multipart.FileHeader)
		if header == nil {
			return nil
		}
		if header.Size > MaxUploadBytes {
			return fmt.Errorf("The %s may not be greater than 10MB.", label)
		}
		return nil
	}
}

func allIn(options []string, label string) validation.RuleFunc {
	return func(value interface{}) error {
		selected, _ := value.([]string)
		for _, v := range selected {
			if !slices.Contains(options, v) {
				return fmt.Errorf("The selected %s is invalid.", label)
			}
		}
		return nil
	}
}

// Persist writes the submission's files under the event's directory. A failed
// write removes whatever was already stored.
func (v *Validator) Persist(ctx context.Context, eventID string, sub *Submission) (models.UploadedFiles, error) {
	uploaded := make(models.UploadedFiles)
	if !sub.HasFiles() {
		return uploaded, nil
	}
	if v.files == nil {
		return nil, errors.New("file store is not configured")
	}

	dir := path.Join("registrations", eventID)
	for _, pf := range sub.files {
		stored, err := v.store(ctx, dir, pf.header)
		if err != nil {
			v.Discard(ctx, uploaded)
			return nil, fmt.Errorf("store %q: %w", pf.header.Filename, err)
		}
		uploaded[pf.key] = append(uploaded[pf.key], stored)
	}
	return uploaded, nil
}

func (v *Validator) store(ctx context.Context, dir string, header *multipart.FileHeader) (models.FileAttachment, error) {
	f, err := header.Open()
	if err != nil {
		return models.FileAttachment{}, err
	}
	defer f.Close()

	p, size, err := v.files.Save(ctx, dir, header.Filename, f)
	if err != nil {
		return models.FileAttachment{}, err
	}
	return models.FileAttachment{OriginalName: header.Filename, Path: p, Size: size}, nil
}

// Discard removes stored files, logging failures.
func (v *Validator) Discard(ctx context.Context, uploaded models.UploadedFiles) {
	if v.files == nil {
		return
	}
	for _, p := range uploaded.Paths() {
		if err := v.files.Remove(ctx, p); err != nil {
			slog.Error("Failed to remove uploaded file", "error", err, "path", p)
		}
	}
}

func firstFile(files map[string][]*multipart.FileHeader, name string) *multipart.FileHeader {
	if hs := files[name]; len(hs) > 0 {
		return hs[0]
	}
	return nil
}

func listValue(values url.Values, name string) []string {
	raw := append(append([]string{}, values[name]...), values[name+"[]"]...)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
