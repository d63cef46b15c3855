package processors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"videoQA/core"
)

// KeyframeExtractor shells out to ffmpeg/ffprobe to decompose a video
// into its I-frames. The engine treats it as an opaque collaborator: it
// produces frame files plus an ordered manifest and nothing else.
type KeyframeExtractor struct {
	FFmpegPath  string
	FFprobePath string
}

func NewKeyframeExtractor() *KeyframeExtractor {
	return &KeyframeExtractor{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

// Extract writes the key frames of videoPath into outDir and returns the
// manifest pairing each frame file with its source timestamp, in stream
// order. Frame files are named <videoID>-keyframe-NNN.png.
func (e *KeyframeExtractor) Extract(videoPath, outDir, videoID string) (*core.KeyframeManifest, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}

	pattern := filepath.Join(outDir, videoID+"-keyframe-%03d.png")
	args := []string{
		"-i", videoPath,
		"-vf", "select=eq(pict_type\\,I)",
		"-vsync", "vfr",
		"-y",
		pattern,
	}
	if err := e.runFFmpeg(args); err != nil {
		return nil, &core.UpstreamError{Op: "extract keyframes", Err: err}
	}

	timestamps, err := e.keyframeTimestamps(videoPath)
	if err != nil {
		return nil, &core.UpstreamError{Op: "probe keyframes", Err: err}
	}

	files, err := listFrameFiles(outDir, videoID)
	if err != nil {
		return nil, err
	}

	manifest := &core.KeyframeManifest{VideoID: videoID, Frames: make([]core.Keyframe, 0, len(files))}
	for i, name := range files {
		ts := 0.0
		if i < len(timestamps) {
			ts = timestamps[i]
		}
		manifest.Frames = append(manifest.Frames, core.Keyframe{
			Filename:     name,
			TimestampSec: ts,
			Sequence:     i,
		})
	}
	return manifest, nil
}

func (e *KeyframeExtractor) runFFmpeg(args []string) error {
	cmd := exec.Command(e.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %v: %s", err, lastLine(stderr.String()))
	}
	return nil
}

// keyframeTimestamps lists the pts_time of every I-frame in the video's
// first video stream, in stream order.
func (e *KeyframeExtractor) keyframeTimestamps(videoPath string) ([]float64, error) {
	cmd := exec.Command(e.FFprobePath,
		"-v", "quiet",
		"-select_streams", "v:0",
		"-show_entries", "frame=pict_type,pts_time",
		"-of", "json",
		videoPath,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe: %v", err)
	}

	var probe struct {
		Frames []struct {
			PictType string `json:"pict_type"`
			PtsTime  string `json:"pts_time"`
		} `json:"frames"`
	}
	if err := json.Unmarshal(out.Bytes(), &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var timestamps []float64
	for _, f := range probe.Frames {
		if f.PictType != "I" {
			continue
		}
		ts, err := strconv.ParseFloat(f.PtsTime, 64)
		if err != nil {
			ts = 0
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps, nil
}

func listFrameFiles(dir, videoID string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := videoID + "-keyframe-"
	var files []string
	for _, ent := range entries {
		name := ent.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".png") {
			files = append(files, name)
		}
	}
	sort.Strings(files)
	return files, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
