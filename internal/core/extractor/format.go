package extractor

// Quality values accepted by POST /download
const (
	Quality1080p = "1080p"
	Quality720p  = "720p"
	Quality480p  = "480p"
	QualityAudio = "audio"
	QualityBest  = "best"
)

// MergeOutputFormat is the container used when video and audio tracks are merged
const MergeOutputFormat = "mp4"

// FormatSpec maps a quality value to a yt-dlp format selector.
// Unknown values fall back to the same selector as "best".
func FormatSpec(quality string) string {
	switch quality {
	case Quality1080p:
		return "bestvideo[height<=1080]+bestaudio/best[height<=1080]"
	case Quality720p:
		return "bestvideo[height<=720]+bestaudio/best[height<=720]"
	case Quality480p:
		return "bestvideo[height<=480]+bestaudio/best[height<=480]"
	case QualityAudio:
		return "bestaudio"
	default:
		return "bv*+ba/b"
	}
}
