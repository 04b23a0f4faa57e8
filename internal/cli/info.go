package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/ytmeta/ytmeta/internal/core/extractor"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info <url>",
	Short: "Show video metadata without downloading",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(runInfo(cmd.Context(), args[0]))
	},
}

var formatsCmd = &cobra.Command{
	Use:   "formats [quality]",
	Short: "Show the yt-dlp format selector used for each quality",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			fmt.Println(extractor.FormatSpec(args[0]))
			return
		}
		for _, q := range []string{
			extractor.Quality1080p,
			extractor.Quality720p,
			extractor.Quality480p,
			extractor.QualityAudio,
			extractor.QualityBest,
		} {
			fmt.Printf("%-6s %s\n", q, extractor.FormatSpec(q))
		}
	},
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "print the same JSON the /metadata endpoint returns")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(formatsCmd)
}

func runInfo(ctx context.Context, url string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	info, err := newExtractor(cfg).Metadata(ctx, url)
	if err != nil {
		return err
	}
	meta := extractor.NewMetadata(info)

	if infoJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}

	printMetadata(os.Stdout, meta)
	return nil
}

func printMetadata(w io.Writer, m extractor.Metadata) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	bold.Fprintln(w, orDash(m.Title))
	field := func(label, value string) {
		cyan.Fprintf(w, "  %-10s ", label)
		fmt.Fprintln(w, value)
	}
	field("Uploader", orDash(m.Uploader))
	field("Duration", formatSeconds(m.Duration))
	field("Views", formatCount(m.ViewCount))
	field("Likes", formatCount(m.LikeCount))
	field("Uploaded", orDash(m.UploadDate))
	field("Thumbnail", orDash(m.Thumbnail))

	cyan.Fprintf(w, "  %-10s ", "Formats")
	if len(m.AvailableFormats) == 0 {
		fmt.Fprintln(w, "-")
	} else {
		green.Fprintln(w, strings.Join(m.AvailableFormats, " "))
	}
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func formatCount(n *int64) string {
	if n == nil {
		return "-"
	}
	return strconv.FormatInt(*n, 10)
}

func formatSeconds(d *float64) string {
	if d == nil {
		return "-"
	}
	total := int(*d)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
