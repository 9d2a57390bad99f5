package wire

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BodySource yields the bytes of a request body. Bodies are read once and then shared
// by every replay of the encoded request.
type BodySource interface {
	Load() ([]byte, error)
	ContentLength() (int64, bool)
}

// NewBodySource picks an inline, file or empty source. A relative file path is resolved
// against baseDir.
func NewBodySource(inline, file, baseDir string) (BodySource, error) {
	file = strings.TrimSpace(file)
	if inline != "" && file != "" {
		return nil, errors.New("body and body file cannot both be provided")
	}

	if inline != "" {
		return &inlineBodySource{data: []byte(inline)}, nil
	}

	if file != "" {
		if !filepath.IsAbs(file) && baseDir != "" {
			file = filepath.Join(baseDir, file)
		}
		info, err := os.Stat(file)
		if err != nil {
			return nil, fmt.Errorf("body file: %w", err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("body file %q is a directory", file)
		}
		return &fileBodySource{path: file, size: info.Size()}, nil
	}

	return emptyBodySource{}, nil
}

type inlineBodySource struct {
	data []byte
}

func (s *inlineBodySource) Load() ([]byte, error) {
	return s.data, nil
}

func (s *inlineBodySource) ContentLength() (int64, bool) {
	return int64(len(s.data)), true
}

type fileBodySource struct {
	path string
	size int64
}

func (s *fileBodySource) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("body file: %w", err)
	}
	return data, nil
}

func (s *fileBodySource) ContentLength() (int64, bool) {
	return s.size, true
}

type emptyBodySource struct{}

func (emptyBodySource) Load() ([]byte, error) {
	return nil, nil
}

func (emptyBodySource) ContentLength() (int64, bool) {
	return 0, true
}
