package station

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValidatePort checks whether the given port is within 1..65535.
func ValidatePort(port int) bool {
	return port > 0 && port < 65536
}

// ExtractPortsFromString parses a comma-separated list of ports and ranges.
// Example: "1000,8000-8002" => [1000 8000 8001 8002]
func ExtractPortsFromString(portsStr string) ([]int, error) {
	var ports []int

	// Handle empty string
	if strings.TrimSpace(portsStr) == "" {
		return ports, nil
	}

	for _, portStr := range strings.Split(portsStr, ",") {
		portStr = strings.TrimSpace(portStr)

		if strings.Contains(portStr, "-") {
			start, end, err := ExtractPortRangeFromString(portStr)
			if err != nil {
				return nil, err
			}
			for port := start; port <= end; port++ {
				ports = append(ports, port)
			}
			continue
		}

		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", portStr)
		}
		if !ValidatePort(port) {
			return nil, fmt.Errorf("port out of range (1-65535): %d", port)
		}

		ports = append(ports, port)
	}

	return ports, nil
}

// ExtractPortRangeFromString extracts a port range from a string
// Example: "80-100" => (80, 100)
func ExtractPortRangeFromString(rangeStr string) (int, int, error) {
	parts := strings.Split(rangeStr, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid port range format: %s", rangeStr)
	}

	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start port: %s", parts[0])
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end port: %s", parts[1])
	}

	if !ValidatePort(start) || !ValidatePort(end) {
		return 0, 0, fmt.Errorf("port range out of bounds (1-65535): %s", rangeStr)
	}
	if start > end {
		return 0, 0, fmt.Errorf("start port greater than end port: %s", rangeStr)
	}

	return start, end, nil
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%d µs", d.Microseconds())
	} else if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.2f sec", float64(d)/float64(time.Second))
	} else if d < time.Hour {
		return fmt.Sprintf("%.2f min", float64(d)/float64(time.Minute))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%.2f hours", float64(d)/float64(time.Hour))
	}
	return fmt.Sprintf("%.2f days", float64(d)/float64(24*time.Hour))
}
