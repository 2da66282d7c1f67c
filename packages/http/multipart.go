package http

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
)

// MultipartBuilder produces a fresh multipart stream and its Content-Type
// from the field descriptor. The client calls it once per hop so a
// consumed stream is never resent.
type MultipartBuilder func(fields []MultipartField, collectionPath string) (io.Reader, string, error)

// validatePathWithinBase checks that the resolved path stays within the base directory
// to prevent path traversal attacks
func validatePathWithinBase(path, baseDir string) error {
	if baseDir == "" {
		return nil
	}

	cleanBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %v", err)
	}

	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %v", err)
	}

	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) && cleanPath != cleanBase {
		return fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, baseDir)
	}

	return nil
}

// BuildMultipartBody creates a multipart form data body. Relative file
// paths resolve against collectionPath and may not leave it.
func BuildMultipartBody(fields []MultipartField, collectionPath string) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, field := range fields {
		if !field.IsFile() {
			if err := writer.WriteField(field.Name, field.Value); err != nil {
				return nil, "", err
			}
			continue
		}

		filePath := field.Path
		if !filepath.IsAbs(filePath) && collectionPath != "" {
			filePath = filepath.Join(collectionPath, filePath)
			if err := validatePathWithinBase(filePath, collectionPath); err != nil {
				return nil, "", &hwerrors.ConfigurationError{Key: "body.multipart." + field.Name, Reason: "invalid upload path", Cause: err}
			}
		}

		file, err := os.Open(filePath)
		if err != nil {
			return nil, "", &hwerrors.ConfigurationError{Key: "body.multipart." + field.Name, Reason: "cannot open upload", Cause: err}
		}

		part, err := writer.CreateFormFile(field.Name, filepath.Base(filePath))
		if err != nil {
			file.Close()
			return nil, "", err
		}

		_, err = io.Copy(part, file)
		file.Close()
		if err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body, writer.FormDataContentType(), nil
}
