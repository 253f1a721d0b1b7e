// Package util holds small helpers shared across the engine.
package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCPUs converts a CPU quantity string (e.g. "2", "0.5") to a float.
// An empty string defaults to 1.
func ParseCPUs(cpus string) (float64, error) {
	cpus = strings.TrimSpace(cpus)
	if cpus == "" {
		return 1, nil
	}
	v, err := strconv.ParseFloat(cpus, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid cpu value: %s", cpus)
	}
	return v, nil
}

// ParseMemory converts a memory quantity string (e.g. "2G", "512M") to MiB.
// An empty string returns 0. A bare number is taken as bytes.
func ParseMemory(memory string) (int, error) {
	memory = strings.TrimSpace(memory)
	if memory == "" {
		return 0, nil
	}

	var value float64
	var unit string
	n, err := fmt.Sscanf(memory, "%f%s", &value, &unit)
	if err != nil && n == 0 {
		return 0, fmt.Errorf("invalid memory value: %s", memory)
	}
	if n == 1 {
		return int(value / (1024 * 1024)), nil
	}

	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "B":
		return int(value / (1024 * 1024)), nil
	case "K", "KB", "KI", "KIB":
		return int(value / 1024), nil
	case "M", "MB", "MI", "MIB":
		return int(value), nil
	case "G", "GB", "GI", "GIB":
		return int(value * 1024), nil
	case "T", "TB", "TI", "TIB":
		return int(value * 1024 * 1024), nil
	default:
		return 0, fmt.Errorf("unknown memory unit: %s", unit)
	}
}
