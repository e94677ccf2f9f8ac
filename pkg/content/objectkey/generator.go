package objectkey

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidFilename indicates a filename that cannot be turned into a
// storage key (empty, or containing a path separator).
var ErrInvalidFilename = errors.New("invalid filename")

// Generator defines the interface for storage key derivation strategies.
type Generator interface {
	// GenerateKey derives the storage key for a new object from the
	// content kind, the original filename and the reference date.
	GenerateKey(kind, filename string, date time.Time) (string, error)
}

// DateGenerator produces date-partitioned keys of the shape
// YYYY/MM/DD/{kind}/{filename}, zero-padded to 4/2/2 digits.
//
// Keys are deterministic for identical inputs: the same filename uploaded
// under two different dates yields two distinct keys, while the same
// kind+filename+date collides intentionally. Callers that must prevent
// overwrites pre-check existence at the storage layer.
type DateGenerator struct{}

func NewDateGenerator() *DateGenerator {
	return &DateGenerator{}
}

func (g *DateGenerator) GenerateKey(kind, filename string, date time.Time) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("%w: filename is empty", ErrInvalidFilename)
	}
	if strings.ContainsRune(filename, '/') {
		return "", fmt.Errorf("%w: %q contains a path separator", ErrInvalidFilename, filename)
	}
	return fmt.Sprintf("%04d/%02d/%02d/%s/%s",
		date.Year(), int(date.Month()), date.Day(), kind, filename), nil
}

// CustomFuncGenerator allows callers to provide their own key derivation.
type CustomFuncGenerator struct {
	GenerateFunc func(kind, filename string, date time.Time) (string, error)
}

func NewCustomFuncGenerator(fn func(kind, filename string, date time.Time) (string, error)) *CustomFuncGenerator {
	return &CustomFuncGenerator{GenerateFunc: fn}
}

func (g *CustomFuncGenerator) GenerateKey(kind, filename string, date time.Time) (string, error) {
	return g.GenerateFunc(kind, filename, date)
}
