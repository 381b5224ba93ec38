package transcode

import (
	"fmt"
	"strings"

	"learnstream/internal/models"
)

// buildTranscodeArgs assembles the single ffmpeg invocation that produces
// every rendition of the ladder in one pass. Output stream indices follow the
// preset order, and the var_stream_map pairs each video stream with its audio
// counterpart under the preset label.
func buildTranscodeArgs(inputPath string, presets []models.QualityPreset) []string {
	args := []string{"-i", inputPath}
	for range presets {
		args = append(args, "-map", "0:v:0", "-map", "0:a:0?")
	}
	for i, preset := range presets {
		args = append(args,
			fmt.Sprintf("-c:v:%d", i), "libx264",
			fmt.Sprintf("-b:v:%d", i), preset.Bitrate,
			fmt.Sprintf("-s:v:%d", i), preset.Resolution(),
			fmt.Sprintf("-c:a:%d", i), "aac",
			fmt.Sprintf("-b:a:%d", i), "128k",
		)
	}
	args = append(args,
		"-f", "hls",
		"-hls_time", "6",
		"-hls_list_size", "0",
		"-hls_segment_filename", "hls/stream_%v_%03d.ts",
		"-master_pl_name", "master.m3u8",
		"-var_stream_map", buildStreamMap(presets),
		"hls/stream_%v.m3u8",
		"-y",
	)
	return args
}

func buildStreamMap(presets []models.QualityPreset) string {
	entries := make([]string, 0, len(presets))
	for i, preset := range presets {
		entries = append(entries, fmt.Sprintf("v:%d,a:%d,name:%s", i, i, preset.Label))
	}
	return strings.Join(entries, " ")
}

func buildThumbnailArgs(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-ss", "00:00:01",
		"-vframes", "1",
		"-vf", "scale=640:-1",
		"-y", outputPath,
	}
}

func buildProbeArgs(inputPath string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
}
