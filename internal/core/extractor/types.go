package extractor

import (
	"context"
	"strconv"
)

// Format is a single stream entry reported by the extractor
type Format struct {
	FormatID string   `json:"format_id"`
	Ext      string   `json:"ext"`
	Height   *float64 `json:"height"`
}

// Info is the subset of the extractor's info dict the service reads.
// Every field is nullable because sites report wildly different data.
type Info struct {
	ID          string   `json:"id"`
	Title       *string  `json:"title"`
	Uploader    *string  `json:"uploader"`
	Duration    *float64 `json:"duration"`
	ViewCount   *int64   `json:"view_count"`
	LikeCount   *int64   `json:"like_count"`
	UploadDate  *string  `json:"upload_date"`
	Description *string  `json:"description"`
	Thumbnail   *string  `json:"thumbnail"`
	Formats     []Format `json:"formats"`
}

// Metadata is the body returned by POST /metadata.
// Field order is part of the wire format.
type Metadata struct {
	Title            *string  `json:"title"`
	Uploader         *string  `json:"uploader"`
	Duration         *float64 `json:"duration"`
	ViewCount        *int64   `json:"view_count"`
	LikeCount        *int64   `json:"like_count"`
	UploadDate       *string  `json:"upload_date"`
	Description      *string  `json:"description"`
	Thumbnail        *string  `json:"thumbnail"`
	AvailableFormats []string `json:"available_formats"`
}

// DownloadOptions controls a single download
type DownloadOptions struct {
	// Format is a yt-dlp format spec, see FormatSpec
	Format string

	// OutputDir receives the finished file; it should be empty and owned by the caller
	OutputDir string
}

// Extractor is the extraction capability the service delegates to
type Extractor interface {
	// Metadata resolves info for url without fetching media bytes
	Metadata(ctx context.Context, url string) (*Info, error)

	// Download fetches url into opts.OutputDir and returns the path of the finished file
	Download(ctx context.Context, url string, opts DownloadOptions) (string, error)
}

// NewMetadata builds the response mapping from extracted info
func NewMetadata(info *Info) Metadata {
	return Metadata{
		Title:            info.Title,
		Uploader:         info.Uploader,
		Duration:         info.Duration,
		ViewCount:        info.ViewCount,
		LikeCount:        info.LikeCount,
		UploadDate:       info.UploadDate,
		Description:      info.Description,
		Thumbnail:        info.Thumbnail,
		AvailableFormats: AvailableFormats(info.Formats),
	}
}

// AvailableFormats returns the distinct "<height>p" labels in the order they
// first appear. Formats without a height (audio-only, storyboards) are skipped.
func AvailableFormats(formats []Format) []string {
	labels := []string{}
	seen := make(map[string]bool)
	for _, f := range formats {
		if f.Height == nil || *f.Height == 0 {
			continue
		}
		label := strconv.FormatFloat(*f.Height, 'f', -1, 64) + "p"
		if seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return labels
}
