package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// OutputTemplate names downloads after the video title and its native extension
const OutputTemplate = "%(title)s.%(ext)s"

// ExtractionError is returned when yt-dlp fails for a URL
type ExtractionError struct {
	URL    string
	Stderr string
	Err    error
}

// Error returns yt-dlp's own "ERROR: ..." line when there is one, since that is
// the message worth showing to a client.
func (e *ExtractionError) Error() string {
	if msg := lastErrorLine(e.Stderr); msg != "" {
		return msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "extraction failed"
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR:") {
			return line
		}
	}
	return ""
}

// YtDlp implements Extractor on top of the yt-dlp program
type YtDlp struct {
	executable string
	proxy      string
}

// NewYtDlp creates a yt-dlp backed extractor. An empty executable means
// yt-dlp is looked up in PATH.
func NewYtDlp(executable, proxy string) *YtDlp {
	return &YtDlp{
		executable: executable,
		proxy:      proxy,
	}
}

func (y *YtDlp) command() *ytdlp.Command {
	cmd := ytdlp.New().Quiet()
	if y.executable != "" {
		cmd = cmd.SetExecutable(y.executable)
	}
	if y.proxy != "" {
		cmd = cmd.Proxy(y.proxy)
	}
	return cmd
}

// Metadata runs yt-dlp in metadata-only mode and decodes its JSON dump
func (y *YtDlp) Metadata(ctx context.Context, url string) (*Info, error) {
	start := time.Now()
	res, err := y.command().
		SkipDownload().
		DumpSingleJSON().
		Run(ctx, urlArgs(url)...)
	if err != nil {
		return nil, newExtractionError(url, res, err)
	}

	var info Info
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return nil, &ExtractionError{URL: url, Err: fmt.Errorf("failed to decode yt-dlp output: %w", err)}
	}

	log.Printf("[ytdlp] metadata %s (%d formats) in %s", url, len(info.Formats), time.Since(start).Round(time.Millisecond))
	return &info, nil
}

// Download fetches url into opts.OutputDir. Playlists are not expanded and
// separately fetched audio/video tracks are merged into MergeOutputFormat.
func (y *YtDlp) Download(ctx context.Context, url string, opts DownloadOptions) (string, error) {
	if opts.OutputDir == "" {
		return "", errors.New("download output directory is required")
	}
	format := opts.Format
	if format == "" {
		format = FormatSpec(QualityBest)
	}

	start := time.Now()
	res, err := y.command().
		Format(format).
		MergeOutputFormat(MergeOutputFormat).
		Output(filepath.Join(opts.OutputDir, OutputTemplate)).
		NoPlaylist().
		Run(ctx, urlArgs(url)...)
	if err != nil {
		return "", newExtractionError(url, res, err)
	}

	path, err := findArtifact(opts.OutputDir)
	if err != nil {
		return "", &ExtractionError{URL: url, Err: err}
	}

	log.Printf("[ytdlp] downloaded %s -> %s in %s", url, filepath.Base(path), time.Since(start).Round(time.Millisecond))
	return path, nil
}

// urlArgs ends option parsing before the URL so a value starting with "-"
// is never read as a yt-dlp flag.
func urlArgs(url string) []string {
	return []string{"--", url}
}

func newExtractionError(url string, res *ytdlp.Result, err error) *ExtractionError {
	e := &ExtractionError{URL: url, Err: err}
	if res != nil {
		e.Stderr = res.Stderr
	}
	log.Printf("[ytdlp] %s failed: %v", url, e)
	return e
}

// partialSuffixes mark files yt-dlp leaves behind while a download is in flight
var partialSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

// findArtifact returns the finished file yt-dlp wrote into dir. The directory
// is private to one request, so the largest finished file is the download.
func findArtifact(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read download directory: %w", err)
	}

	var best string
	var bestSize int64 = -1
	for _, entry := range entries {
		if entry.IsDir() || isPartial(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if fi.Size() > bestSize {
			best = filepath.Join(dir, entry.Name())
			bestSize = fi.Size()
		}
	}

	if best == "" {
		return "", errors.New("yt-dlp finished without producing a file")
	}
	return best, nil
}

func isPartial(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, ".part-frag") {
		return true
	}
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
