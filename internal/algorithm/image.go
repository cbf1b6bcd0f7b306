package algorithm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ImageDescriptor is what the in-tree image processors report. The trained
// OCR and detection models run out of process; these processors decode the
// image so the transfer and decode cost is still measured per tier.
type ImageDescriptor struct {
	Task   string `json:"task"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Bytes  int    `json:"bytes"`
}

// firstImage returns the bytes of the first .jpg/.jpeg/.png in dir by name.
// The bytes are encoded as base64 on the wire.
func firstImage(dir string) (any, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.Type().IsRegular() && (ext == ".jpg" || ext == ".jpeg" || ext == ".png") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no image files found in %s", dir)
	}
	sort.Strings(names)
	return os.ReadFile(filepath.Join(dir, names[0]))
}

func processPlate(data json.RawMessage) (any, error) {
	return describeImage("ocr", data)
}

func processDetection(data json.RawMessage) (any, error) {
	return describeImage("object_detection", data)
}

func describeImage(task string, data json.RawMessage) (ImageDescriptor, error) {
	var raw []byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return ImageDescriptor{}, fmt.Errorf("image input must be base64 bytes: %w", err)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return ImageDescriptor{}, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	return ImageDescriptor{
		Task:   task,
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
		Bytes:  len(raw),
	}, nil
}
