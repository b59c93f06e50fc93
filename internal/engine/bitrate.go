package engine

import (
	"regexp"
	"strconv"
	"time"

	"radiod/internal/source"
)

const (
	bitrateModeExact   = "exact"
	bitrateModeTitle   = "title"
	bitrateModeAssumed = "assumed"

	minTitleKbps = 32
	maxTitleKbps = 512
)

// Title forms like "(320)" or "320 kbps" / "320kbps".
var titleKbpsRe = regexp.MustCompile(`(?i)\((\d{2,3})\)|(\d{2,3})\s*kbps`)

// resolveBitrate picks the pacing rate for one track, in priority order:
// exact size/duration, a kbps hint embedded in the title, then the
// configured assumed rate.
func resolveBitrate(track source.Track, assumedKbps int) (bytesPerSec int, mode string) {
	if track.Size > 0 && track.Duration > 0 {
		sec := track.Duration.Seconds()
		if bps := int(float64(track.Size) / sec); bps > 0 {
			return bps, bitrateModeExact
		}
	}

	if kbps, ok := kbpsFromTitle(track.Title); ok {
		return kbps * 1000 / 8, bitrateModeTitle
	}

	if assumedKbps <= 0 {
		assumedKbps = 192
	}
	return assumedKbps * 1000 / 8, bitrateModeAssumed
}

func kbpsFromTitle(title string) (int, bool) {
	for _, m := range titleKbpsRe.FindAllStringSubmatch(title, -1) {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		kbps, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		if kbps >= minTitleKbps && kbps <= maxTitleKbps {
			return kbps, true
		}
	}
	return 0, false
}

// frameDuration is the real-time cost of one broadcast frame at the given
// rate; the pacing error bound.
func frameDuration(frameSize, bytesPerSec int) time.Duration {
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(float64(frameSize) / float64(bytesPerSec) * float64(time.Second))
}
