package util

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// ReadFileLines reads a file and returns its lines.
func ReadFileLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// ParseUint64 parses a string to uint64, returning 0 on error.
func ParseUint64(s string) uint64 {
	v, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	return v
}

// ParseKeyValueFile parses "Key: value" lines, as in /proc/meminfo.
func ParseKeyValueFile(path string) (map[string]string, error) {
	lines, err := ReadFileLines(path)
	if err != nil {
		return nil, err
	}
	kv := make(map[string]string, len(lines))
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return kv, nil
}

// MeminfoKB extracts the numeric part of a meminfo value like "1234 kB".
func MeminfoKB(s string) uint64 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	return ParseUint64(fields[0])
}

// CPUPct computes CPU usage percentage from two tick values and total ticks.
func CPUPct(prevActive, currActive, prevTotal, currTotal uint64) float64 {
	dtotal := currTotal - prevTotal
	if dtotal == 0 {
		return 0
	}
	dactive := currActive - prevActive
	return float64(dactive) / float64(dtotal) * 100
}
