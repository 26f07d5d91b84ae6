package store

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FormatBytes renders a byte count in human-readable form.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return formatUnit(bytes, "B")
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB", "PB"}
	return formatFloatUnit(float64(bytes)/float64(div), units[exp])
}

func formatUnit(n int64, unit string) string {
	return itoa(n) + " " + unit
}

func formatFloatUnit(f float64, unit string) string {
	return trimFloat(f) + " " + unit
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func trimFloat(f float64) string {
	scaled := int64(f*10 + 0.5)
	whole := scaled / 10
	frac := scaled % 10
	return itoa(whole) + "." + itoa(frac)
}

// FormatTime renders t for display, or "unknown" for the zero value.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}

// containsAny reports whether s contains any of substrs.
func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses the embedder backend that produced model,
// for display when the backend itself wasn't recorded alongside it.
func inferBackendFromModel(model string) string {
	lower := strings.ToLower(model)
	if lower == "" || strings.HasPrefix(lower, "static") {
		return "static"
	}
	return "http"
}

// getDirSize sums the size of every regular file under dir, returning 0 if
// dir does not exist.
func getDirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
