package summarizer

import (
	"fmt"
	"strings"
	"time"
)

// Option configures a MarkdownFormatter.
type Option func(*MarkdownFormatter)

// WithTranslator sets the function used to translate labels.
func WithTranslator(t func(string) string) Option {
	return func(f *MarkdownFormatter) {
		f.t = t
	}
}

// WithVersion adds the player version to the footer.
func WithVersion(version string) Option {
	return func(f *MarkdownFormatter) {
		f.version = version
	}
}

// MarkdownFormatter renders a Summary as a Markdown document.
type MarkdownFormatter struct {
	t       func(string) string
	version string
}

// NewMarkdownFormatter creates a MarkdownFormatter.
func NewMarkdownFormatter(opts ...Option) *MarkdownFormatter {
	f := &MarkdownFormatter{
		t: func(s string) string { return s },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format implements Formatter.
func (f *MarkdownFormatter) Format(s *Summary) string {
	var b strings.Builder
	t := f.t

	fmt.Fprintf(&b, "# %s\n\n", t("Playback Summary"))
	fmt.Fprintf(&b, "- %s: %s\n", t("Generated At"), s.GeneratedAt.Format(time.RFC3339))
	if s.SessionID != "" {
		fmt.Fprintf(&b, "- %s: `%s`\n", t("Session"), s.SessionID)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## %s\n\n", t("Source"))
	b.WriteString(tableHeader(t))
	row(&b, t("File"), s.Source.Path)
	row(&b, t("Container"), s.Source.Container)
	if s.Source.SizeBytes > 0 {
		row(&b, t("File Size"), formatBytes(s.Source.SizeBytes))
	}
	row(&b, t("Duration"), formatMs(s.Source.DurationMs, t))
	b.WriteString("\n")

	fmt.Fprintf(&b, "## %s\n\n", t("Streams"))
	b.WriteString(tableHeader(t))
	video := fmt.Sprintf("%s %dx%d", s.Video.Codec, s.Video.Width, s.Video.Height)
	if s.Video.FrameRate > 0 {
		video += fmt.Sprintf(" @ %.2f fps", s.Video.FrameRate)
	}
	row(&b, t("Video"), video)
	if s.Video.Decoder != "" {
		row(&b, t("Video Decoder"), s.Video.Decoder)
	}
	if s.Audio != nil {
		row(&b, t("Audio"), fmt.Sprintf("%s %d Hz, %d ch", s.Audio.Codec, s.Audio.SampleRate, s.Audio.Channels))
		if s.Audio.Decoder != "" {
			row(&b, t("Audio Decoder"), s.Audio.Decoder)
		}
	} else {
		row(&b, t("Audio"), t("None"))
	}
	b.WriteString("\n")

	p := s.Playback
	fmt.Fprintf(&b, "## %s\n\n", t("Playback"))
	b.WriteString(tableHeader(t))
	row(&b, t("Frames Presented"), fmt.Sprintf("%d", p.Presented))
	row(&b, t("Frames Dropped"), fmt.Sprintf("%d", p.Dropped))
	row(&b, t("Seeks"), fmt.Sprintf("%d", p.Seeks))
	if p.FailedSeeks > 0 {
		row(&b, t("Failed Seeks"), fmt.Sprintf("%d", p.FailedSeeks))
	}
	row(&b, t("Skipped Packets"), fmt.Sprintf("%d", p.PacketErrors))
	if s.Audio != nil {
		row(&b, t("Audio Underruns"), fmt.Sprintf("%d", p.Underruns))
		row(&b, t("Audio Overflows"), fmt.Sprintf("%d", p.AudioOverflows))
	}
	if s.Settings.DriftCorrection {
		row(&b, t("Drift Corrections"), fmt.Sprintf("%d", p.DriftCorrections))
	}
	row(&b, t("Last Position"), formatMs(p.LastPositionMs, t))
	row(&b, t("Wall Time"), formatMs(p.WallTimeMs, t))
	if p.StopReason != "" {
		row(&b, t("Stopped By"), t(p.StopReason))
	}
	b.WriteString("\n")

	st := s.Settings
	fmt.Fprintf(&b, "## %s\n\n", t("Settings"))
	b.WriteString(tableHeader(t))
	row(&b, t("Hardware Acceleration"), st.HWAccel)
	row(&b, t("Audio Output"), st.AudioOutput)
	row(&b, t("Presentation"), st.PresentMode)
	row(&b, t("Cadence"), fmt.Sprintf("%.2f ms", st.CadenceMs))
	row(&b, t("Late Drop"), fmt.Sprintf("%d ms", st.LateDropMs))
	drift := t("Off")
	if st.DriftCorrection {
		drift = t("On")
	}
	row(&b, t("Drift Correction"), drift)

	b.WriteString("\n---\n")
	if f.version != "" {
		fmt.Fprintf(&b, "%s warpplayer %s\n", t("Generated by"), f.version)
	} else {
		fmt.Fprintf(&b, "%s warpplayer\n", t("Generated by"))
	}

	return b.String()
}

func tableHeader(t func(string) string) string {
	return fmt.Sprintf("| %s | %s |\n|---|---|\n", t("Item"), t("Value"))
}

func row(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "| %s | %s |\n", key, value)
}

func formatMs(ms int, t func(string) string) string {
	if ms <= 0 {
		return t("N/A")
	}
	return fmt.Sprintf("%d ms", ms)
}

// formatBytes formats a byte count with binary units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMG"[exp])
}
