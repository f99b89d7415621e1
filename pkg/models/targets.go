package models

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadTargets parses one target per line. Both "id<TAB>min<TAB>max" and
// "id<TAB>min-max" are accepted; blank lines and lines starting with # are skipped.
func ReadTargets(r io.Reader) ([]Target, error) {
	var targets []Target
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		target, err := parseTargetLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		targets = append(targets, target)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read targets: %w", err)
	}

	return targets, nil
}

// ReadTargetsFile reads targets from a file
func ReadTargetsFile(path string) ([]Target, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open targets file: %w", err)
	}
	defer file.Close()

	return ReadTargets(file)
}

func parseTargetLine(line string) (Target, error) {
	parts := strings.Split(line, "\t")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	var minStr, maxStr string
	switch len(parts) {
	case 2:
		bounds := strings.SplitN(parts[1], "-", 2)
		if len(bounds) != 2 {
			return Target{}, fmt.Errorf("malformed range %q", parts[1])
		}
		minStr, maxStr = bounds[0], bounds[1]
	case 3:
		minStr, maxStr = parts[1], parts[2]
	default:
		return Target{}, fmt.Errorf("expected 2 or 3 tab-separated fields, got %d", len(parts))
	}

	if parts[0] == "" {
		return Target{}, fmt.Errorf("empty target id")
	}

	domainMin, err := strconv.ParseFloat(minStr, 64)
	if err != nil {
		return Target{}, fmt.Errorf("invalid domain min %q: %w", minStr, err)
	}
	domainMax, err := strconv.ParseFloat(maxStr, 64)
	if err != nil {
		return Target{}, fmt.Errorf("invalid domain max %q: %w", maxStr, err)
	}
	if domainMax < domainMin {
		return Target{}, fmt.Errorf("domain max %v below min %v", domainMax, domainMin)
	}

	return Target{ID: parts[0], DomainMin: domainMin, DomainMax: domainMax}, nil
}
