package formats

import (
	"fmt"
	"math"
	"strconv"
)

// Policy holds the scoring and estimate tables, keyed by video height.
type Policy struct {
	// Targets are the preferred bitrates in kbps.
	Targets       map[int]float64
	DefaultTarget float64
	// Estimates are typical bitrates in kbps used when a format reports
	// neither size nor bitrate.
	Estimates map[int]float64
	// DurationFallback replaces an unknown duration in seconds.
	DurationFallback float64
}

// DefaultPolicy returns the built-in tables.
func DefaultPolicy() Policy {
	return Policy{
		Targets: map[int]float64{
			2160: 15000,
			1440: 10000,
			1080: 6000,
			720:  4000,
			480:  2000,
			360:  1000,
		},
		DefaultTarget: 5000,
		Estimates: map[int]float64{
			2160: 25000,
			1440: 16000,
			1080: 8000,
			720:  5000,
			480:  2500,
			360:  1000,
			240:  500,
		},
		DurationFallback: 180,
	}
}

// PolicyFromConfig applies configured table entries over DefaultPolicy.
// Keys are heights as strings, as they come out of YAML.
func PolicyFromConfig(targets, estimates map[string]int) (Policy, error) {
	p := DefaultPolicy()
	for k, v := range targets {
		h, err := strconv.Atoi(k)
		if err != nil || h <= 0 || v <= 0 {
			return p, fmt.Errorf("formats: invalid target %q=%d", k, v)
		}
		p.Targets[h] = float64(v)
	}
	for k, v := range estimates {
		h, err := strconv.Atoi(k)
		if err != nil || h <= 0 || v <= 0 {
			return p, fmt.Errorf("formats: invalid estimate %q=%d", k, v)
		}
		p.Estimates[h] = float64(v)
	}
	return p, nil
}

// Target returns the preferred bitrate for height.
func (p Policy) Target(height int) float64 {
	if t, ok := p.Targets[height]; ok {
		return t
	}
	return p.DefaultTarget
}

// EstimateBitrate returns the estimate of the table height closest to
// height. Ties go to the lower table height.
func (p Policy) EstimateBitrate(height int) float64 {
	best, bestDist := 0, math.MaxInt
	for h := range p.Estimates {
		d := h - height
		if d < 0 {
			d = -d
		}
		if d < bestDist || (d == bestDist && h < best) {
			best, bestDist = h, d
		}
	}
	return p.Estimates[best]
}

// Score rates a candidate of a given height; higher is better. Known file
// sizes dominate, then bitrates near the height's target, then mp4 and
// widely supported codecs.
func (p Policy) Score(c Candidate, duration float64) int {
	score := 0
	if c.FileSize > 0 {
		score += 10000
		d := duration
		if d <= 0 {
			d = p.DurationFallback
		}
		sizePerMin := float64(c.FileSize) / (d / 60)
		score -= int(sizePerMin / (1024 * 1024))
	}
	if c.TBR > 0 {
		score += 5000
		target := p.Target(c.Height)
		if c.TBR <= target*1.5 {
			score += 2000
			score += int((target*1.5 - c.TBR) / 100)
		} else {
			score -= int(math.Abs(c.TBR-target) / 100)
		}
	}
	if c.Ext == "mp4" {
		score += 500
	}
	switch vc := lower(c.VCodec); {
	case containsAny(vc, "avc1", "h264", "x264"):
		score += 200
	case containsAny(vc, "vp9"):
		score += 150
	case containsAny(vc, "av01"):
		score += 100
	}
	return score
}
