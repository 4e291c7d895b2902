package presenter

import (
	"fmt"
	"math"
)

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

// FormatSpeed renders a speed given in KB/s: one decimal in KB/s while the
// rounded value stays below 1024 KB/s, otherwise one decimal in MB/s.
func FormatSpeed(kbPerSec float64) string {
	if roundTo(kbPerSec, 1) < 1024 {
		return fmt.Sprintf("%.1f KB/s", kbPerSec)
	}
	return fmt.Sprintf("%.1f MB/s", kbPerSec/1024)
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// FormatBytesPerSecond renders a speed given in bytes per second.
func FormatBytesPerSecond(bytesPerSec int64) string {
	return FormatSpeed(float64(bytesPerSec) / 1024)
}

// FormatBytes renders n with base-1024 units. Zero is "0 Bytes"; a negative
// decimals value falls back to zero decimals.
func FormatBytes(n int64, decimals int) string {
	if n == 0 {
		return "0 Bytes"
	}
	if decimals < 0 {
		decimals = 0
	}
	v := math.Abs(float64(n))
	i := int(math.Floor(math.Log(v) / math.Log(1024)))
	if i < 0 {
		i = 0
	}
	if i >= len(byteUnits) {
		i = len(byteUnits) - 1
	}
	scaled := float64(n) / math.Pow(1024, float64(i))
	// 1023.999 KB rounds up into the next unit.
	if math.Abs(roundTo(scaled, decimals)) >= 1024 && i < len(byteUnits)-1 {
		i++
		scaled /= 1024
	}
	return fmt.Sprintf("%.*f %s", decimals, scaled, byteUnits[i])
}

// FormatSize is FormatBytes with the default two decimals.
func FormatSize(n int64) string {
	return FormatBytes(n, 2)
}
