package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"wildfire/internal/exec"
)

type Prober struct {
	ffprobePath string
	runner      exec.Runner
}

type VideoInfo struct {
	DurationMs int64
	// Width and Height are display dimensions, already swapped for ±90° rotation.
	Width      int
	Height     int
	Rotation   int
	FPS        float64
	Bitrate    int
	CodecName  string
	AudioCodec string
}

// AspectRatio is width over height, or 0 when dimensions are unknown.
func (info *VideoInfo) AspectRatio() float64 {
	if info.Height == 0 {
		return 0
	}
	return float64(info.Width) / float64(info.Height)
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width,omitempty"`
		Height     int    `json:"height,omitempty"`
		RFrameRate string `json:"r_frame_rate,omitempty"`
		BitRate    string `json:"bit_rate,omitempty"`
		Duration   string `json:"duration,omitempty"`
		Tags       struct {
			Rotate string `json:"rotate,omitempty"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

func NewProber(ffprobePath string, runner exec.Runner) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		runner:      runner,
	}
}

func (prober *Prober) ProbeVideo(ctx context.Context, videoPath string) (*VideoInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	}

	output, err := prober.runner.Run(ctx, prober.ffprobePath, args...)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return Parse(output)
}

// Parse decodes ffprobe JSON output.
func Parse(output []byte) (*VideoInfo, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(output, &probeData); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &VideoInfo{}
	info.DurationMs = parseSeconds(probeData.Format.Duration)

	if probeData.Format.BitRate != "" {
		if bitrate, err := strconv.Atoi(probeData.Format.BitRate); err == nil {
			info.Bitrate = bitrate / 1000
		}
	}

	for _, stream := range probeData.Streams {
		if stream.CodecType == "video" && info.Width == 0 {
			info.Width = stream.Width
			info.Height = stream.Height
			info.CodecName = stream.CodecName

			if stream.RFrameRate != "" {
				parts := strings.Split(stream.RFrameRate, "/")
				if len(parts) == 2 {
					num, _ := strconv.ParseFloat(parts[0], 64)
					den, _ := strconv.ParseFloat(parts[1], 64)
					if den > 0 {
						info.FPS = num / den
					}
				}
			}

			if info.DurationMs == 0 {
				info.DurationMs = parseSeconds(stream.Duration)
			}

			info.Rotation = rotation(stream.Tags.Rotate, stream.SideDataList)
			if info.Rotation == 90 || info.Rotation == 270 {
				info.Width, info.Height = info.Height, info.Width
			}
		} else if stream.CodecType == "audio" && info.AudioCodec == "" {
			info.AudioCodec = stream.CodecName
		}
	}

	if info.Width == 0 || info.Height == 0 {
		return nil, fmt.Errorf("no video stream found")
	}

	return info, nil
}

func parseSeconds(value string) int64 {
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(seconds * 1000))
}

// rotation normalises the stream rotation to one of 0, 90, 180, 270.
func rotation(tag string, sideData []struct {
	Rotation float64 `json:"rotation"`
}) int {
	var degrees int
	if tag != "" {
		degrees, _ = strconv.Atoi(tag)
	} else {
		for _, sd := range sideData {
			if sd.Rotation != 0 {
				degrees = int(math.Round(sd.Rotation))
				break
			}
		}
	}
	degrees %= 360
	if degrees < 0 {
		degrees += 360
	}
	return degrees
}
