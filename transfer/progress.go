package transfer

import (
	"time"

	"ytrelay/extract"
	"ytrelay/metadata"
	"ytrelay/youtube"
)

// DownloadShare is the progress value at which the download phase ends.
const DownloadShare = 50.0

// applyDownload folds a download report into j. Progress stays within
// [0, 50] and never decreases; the finished signal pins it to 50 even
// when no total was ever reported.
func applyDownload(j *Job, p extract.Progress) {
	if p.Status == extract.StatusFinished {
		j.Status = StatusDownloadComplete
		j.Progress = DownloadShare
		j.ETA = ""
		return
	}

	total, estimated := p.TotalBytes, false
	if total <= 0 {
		total, estimated = p.TotalEstimate, true
	}
	if total > 0 {
		pct := float64(p.DownloadedBytes) / float64(total) * DownloadShare
		j.Progress = monotonic(j.Progress, pct, 0, DownloadShare)
		j.Total = metadata.FormatBytes(total)
		if estimated {
			j.Total += " (est)"
		}
	}
	j.Downloaded = metadata.FormatBytes(p.DownloadedBytes)
	if p.Speed > 0 {
		j.Speed = metadata.FormatSpeed(p.Speed)
	}
	if p.ETA > 0 {
		j.ETA = metadata.FormatTime(p.ETA)
	}
}

// applyUpload maps an upload status to 50 + fraction*50. Speed and ETA
// come from the wall-clock time since the session opened.
func applyUpload(j *Job, st youtube.UploadStatus, elapsed time.Duration) {
	pct := DownloadShare + st.Fraction()*(100-DownloadShare)
	j.Progress = monotonic(j.Progress, pct, DownloadShare, 100)
	j.Uploaded = metadata.FormatBytes(st.Sent)
	j.Total = metadata.FormatBytes(st.Total)

	if secs := elapsed.Seconds(); secs > 0 && st.Sent > 0 {
		speed := float64(st.Sent) / secs
		j.Speed = metadata.FormatSpeed(speed)
		j.ETA = metadata.FormatTime(float64(st.Total-st.Sent) / speed)
	}
}

// monotonic clamps v into [lo, hi] and never returns less than cur.
func monotonic(cur, v, lo, hi float64) float64 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	if v < cur {
		return cur
	}
	return v
}
