package model

import (
	"fmt"
	"strings"
)

// Architecture names the tier that runs the processing function for a payload.
type Architecture string

const (
	ArchIoT   Architecture = "IoT"
	ArchEdge  Architecture = "Edge"
	ArchCloud Architecture = "Cloud"
)

// Valid reports whether a is one of the canonical tiers.
func (a Architecture) Valid() bool {
	switch a {
	case ArchIoT, ArchEdge, ArchCloud:
		return true
	default:
		return false
	}
}

func ParseArchitecture(s string) (Architecture, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "iot":
		return ArchIoT, nil
	case "edge":
		return ArchEdge, nil
	case "cloud":
		return ArchCloud, nil
	default:
		return "", fmt.Errorf("unknown architecture %q (want IoT, Edge or Cloud)", s)
	}
}
