package body

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/unkn0wn-root/reqforge/internal/errdef"
	"github.com/unkn0wn-root/reqforge/internal/reqdef"
	"github.com/unkn0wn-root/reqforge/internal/vars"
)

type FileSystem interface {
	ReadFile(name string) ([]byte, error)
}

type OSFileSystem struct{}

func (OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// Encoded is a transmittable payload plus the content type the encoder would
// default to. An explicit Content-Type header set by the user always wins;
// the composer enforces that precedence, not this package.
type Encoded struct {
	Data        []byte
	ContentType string
	Present     bool
	Multipart   bool

	// Warnings collects per-field failures that were skipped without
	// aborting the rest of the body (unreadable multipart files).
	Warnings error
}

// Encode maps the declared body type to its payload. Only the variant
// selected by def.Type is ever read; stale data in the inactive variants is
// ignored by construction.
func Encode(def reqdef.Body, env vars.Env, fs FileSystem, log zerolog.Logger) (Encoded, error) {
	if fs == nil {
		fs = OSFileSystem{}
	}

	switch def.Type {
	case reqdef.BodyNone, "":
		return Encoded{}, nil
	case reqdef.BodyJSON:
		return encodeJSON(def.JSON, env)
	case reqdef.BodyRaw:
		return Encoded{
			Data:    []byte(vars.Substitute(def.Raw, env)),
			Present: true,
		}, nil
	case reqdef.BodyFormData:
		return encodeMultipart(def.FormData, env, fs, log)
	case reqdef.BodyURLEncoded:
		return encodeURLEncoded(def.URLEncoded, env), nil
	default:
		return Encoded{}, errdef.New(errdef.CodeEncode, "unknown body type %q", def.Type)
	}
}

func encodeJSON(template map[string]interface{}, env vars.Env) (Encoded, error) {
	if template == nil {
		template = map[string]interface{}{}
	}
	substituted := vars.SubstituteValue(template, env)
	data, err := json.Marshal(substituted)
	if err != nil {
		return Encoded{}, errdef.Wrap(errdef.CodeEncode, err, "encode json body")
	}
	return Encoded{
		Data:        data,
		ContentType: "application/json",
		Present:     true,
	}, nil
}

func encodeURLEncoded(fields []reqdef.FormField, env vars.Env) Encoded {
	values := url.Values{}
	for _, field := range reqdef.ActiveFields(fields) {
		key := vars.Substitute(field.Key, env)
		values.Add(key, vars.Substitute(field.Value, env))
	}
	return Encoded{
		Data:        []byte(values.Encode()),
		ContentType: "application/x-www-form-urlencoded",
		Present:     true,
	}
}

// Multipart file parts are read in full before the body is considered ready.
// A single unreadable file skips that part with a warning and the remaining
// fields still encode; the accumulated failures surface via Warnings.
func encodeMultipart(
	fields []reqdef.FormField,
	env vars.Env,
	fs FileSystem,
	log zerolog.Logger,
) (Encoded, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	var warnings *multierror.Error
	for _, field := range reqdef.ActiveFields(fields) {
		key := vars.Substitute(field.Key, env)
		switch field.Type {
		case reqdef.FormFieldFile:
			data, err := fs.ReadFile(field.File)
			if err != nil {
				wrapped := errdef.Wrap(errdef.CodeEncode, err, "read form file %s", field.File)
				warnings = multierror.Append(warnings, wrapped)
				log.Warn().Err(err).Str("field", key).Str("file", field.File).
					Msg("skipping unreadable form file")
				continue
			}
			part, err := writer.CreateFormFile(key, filepath.Base(field.File))
			if err != nil {
				return Encoded{}, errdef.Wrap(errdef.CodeEncode, err, "create form file part")
			}
			if _, err := part.Write(data); err != nil {
				return Encoded{}, errdef.Wrap(errdef.CodeEncode, err, "write form file part")
			}
		default:
			value := vars.Substitute(field.Value, env)
			if err := writer.WriteField(key, value); err != nil {
				return Encoded{}, errdef.Wrap(errdef.CodeEncode, err, "write form field")
			}
		}
	}

	if err := writer.Close(); err != nil {
		return Encoded{}, errdef.Wrap(errdef.CodeEncode, err, "finalize multipart body")
	}

	return Encoded{
		Data:        buf.Bytes(),
		ContentType: writer.FormDataContentType(),
		Present:     true,
		Multipart:   true,
		Warnings:    warnings.ErrorOrNil(),
	}, nil
}
