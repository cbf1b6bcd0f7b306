// Package algorithm holds the fixed set of offloadable workloads. Each variant
// knows where its input data lives, how to turn that data into a wire payload,
// and how to process a payload into a result.
package algorithm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var (
	ErrUnknown     = errors.New("unknown algorithm")
	ErrInvalidSize = errors.New("invalid data size option")
	ErrProcessing  = errors.New("processing failed")
)

type Algorithm int

const (
	SequenceAlignment Algorithm = iota + 1
	SentimentAnalysis
	OCR
	ObjectDetection
)

var defaultSizes = []string{"small", "medium", "large"}

type variant struct {
	code       string
	name       string
	dataDir    string
	sizes      []string
	preprocess func(dir string) (any, error)
	process    func(data json.RawMessage) (any, error)
}

var variants = map[Algorithm]variant{
	SequenceAlignment: {
		code:       "SW",
		name:       "Smith-Waterman",
		dataDir:    "seq_align",
		sizes:      defaultSizes,
		preprocess: collectAlignmentData,
		process:    processAlignment,
	},
	SentimentAnalysis: {
		code:       "SA",
		name:       "Sentiment Analysis",
		dataDir:    "reviews",
		sizes:      defaultSizes,
		preprocess: collectReviews,
		process:    processSentiment,
	},
	OCR: {
		code:       "OCR",
		name:       "Optical Character Recognition",
		dataDir:    "license_plates",
		sizes:      defaultSizes,
		preprocess: firstImage,
		process:    processPlate,
	},
	ObjectDetection: {
		code:       "YOLO",
		name:       "Object Detection",
		dataDir:    "coco128_images",
		sizes:      defaultSizes,
		preprocess: firstImage,
		process:    processDetection,
	},
}

// All returns every algorithm in declaration order.
func All() []Algorithm {
	return []Algorithm{SequenceAlignment, SentimentAnalysis, OCR, ObjectDetection}
}

// Parse resolves an algorithm code such as "SW" or "yolo".
func Parse(code string) (Algorithm, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	for _, a := range All() {
		if variants[a].code == c {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknown, code)
}

func (a Algorithm) String() string {
	if v, ok := variants[a]; ok {
		return v.code
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

func (a Algorithm) Name() string {
	return variants[a].name
}

func (a Algorithm) AvailableSizes() []string {
	return slices.Clone(variants[a].sizes)
}

// DataDirectory returns root/<algorithm dir>/<size>.
func (a Algorithm) DataDirectory(root, size string) (string, error) {
	v, ok := variants[a]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknown, int(a))
	}
	if !slices.Contains(v.sizes, size) {
		return "", fmt.Errorf("%w: %q (supported: %s)", ErrInvalidSize, size, strings.Join(v.sizes, ", "))
	}
	return filepath.Join(root, v.dataDir, size), nil
}

// Preprocess loads the input found in dir into its wire form.
func (a Algorithm) Preprocess(dir string) (json.RawMessage, error) {
	v, ok := variants[a]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknown, int(a))
	}
	data, err := v.preprocess(dir)
	if err != nil {
		return nil, fmt.Errorf("preprocess %s data in %s: %w", v.code, dir, err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", v.code, err)
	}
	return raw, nil
}

// Process runs the algorithm over data. Any failure, including a panic inside
// the algorithm, is reported as ErrProcessing.
func (a Algorithm) Process(data json.RawMessage) (out json.RawMessage, err error) {
	v, ok := variants[a]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %d", ErrProcessing, ErrUnknown, int(a))
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %s panicked: %v", ErrProcessing, v.code, r)
		}
	}()

	result, err := v.process(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessing, v.code, err)
	}
	out, err = json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s result: %v", ErrProcessing, v.code, err)
	}
	return out, nil
}

// Timed runs Process and reports how long it took.
func (a Algorithm) Timed(data json.RawMessage) (json.RawMessage, time.Duration, error) {
	start := time.Now()
	out, err := a.Process(data)
	return out, time.Since(start), err
}

// DataSize sums the sizes of the regular files directly inside dir.
func DataSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
