package market

import (
	"fmt"
	"strings"
)

// BarSizes are the bar sizes (seconds) candles are stored at, coarsest first.
var BarSizes = []int64{3600, 1800, 900, 300, 120, 60, 30}

// FallbackBarSizes returns the stored sizes that can be rolled up into
// barSize: every size F with F <= barSize and barSize%F == 0, coarsest
// first. The result is empty when nothing divides evenly.
func FallbackBarSizes(barSize int64) []int64 {
	var out []int64
	for _, f := range BarSizes {
		if f <= barSize && barSize%f == 0 {
			out = append(out, f)
		}
	}
	return out
}

func SecondsToTFString(sec int64) (string, error) {
	if sec <= 0 {
		return "", fmt.Errorf("invalid timeframe seconds: %d", sec)
	}

	if sec < 60 {
		return fmt.Sprintf("S%d", sec), nil
	}

	// Minutes
	if sec < 3600 && sec%60 == 0 {
		return fmt.Sprintf("M%d", sec/60), nil
	}

	// Hours
	if sec < 86400 && sec%3600 == 0 {
		return fmt.Sprintf("H%d", sec/3600), nil
	}

	if sec%86400 == 0 {
		return fmt.Sprintf("D%d", sec/86400), nil
	}

	return "", fmt.Errorf("cannot map timeframe: %d seconds", sec)
}

func TFStringToSeconds(tf string) (int64, error) {
	switch strings.ToUpper(strings.TrimSpace(tf)) {
	case "S30":
		return 30, nil
	case "M1":
		return 60, nil
	case "M2":
		return 120, nil
	case "M5":
		return 300, nil
	case "M15":
		return 900, nil
	case "M30":
		return 1800, nil
	case "H1":
		return 3600, nil
	case "H4":
		return 14400, nil
	case "D1":
		return 86400, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe string: %s", tf)
	}
}
