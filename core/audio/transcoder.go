package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"TrackHub/config"
	"TrackHub/errs"
	"TrackHub/logger"
)

// DeliveryExt is the extension of every transcoded artifact.
const DeliveryExt = "aac"

var (
	// ErrTranscodeTimeout is returned when ffmpeg exceeds the configured timeout.
	ErrTranscodeTimeout = fmt.Errorf("%w: transcode exceeded its time limit", errs.ErrTimeout)
	// ErrConvertedFileNotFound is returned when ffmpeg exits cleanly but the
	// output file is missing.
	ErrConvertedFileNotFound = fmt.Errorf("%w: converted track file not found", errs.ErrNotFound)
	// ErrDurationUnavailable is returned when neither the output nor the input
	// can be probed for a duration.
	ErrDurationUnavailable = fmt.Errorf("%w: could not determine track duration", errs.ErrExternal)
)

// ConversionError is a failure reported by the codec tool itself.
type ConversionError struct {
	Input   string
	Message string // trimmed stderr
	Err     error
}

func (e *ConversionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("failed to convert %s: %v", filepath.Base(e.Input), e.Err)
	}
	return fmt.Sprintf("failed to convert %s: %v: %s", filepath.Base(e.Input), e.Err, e.Message)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Is reports conversion failures as external-dependency errors.
func (e *ConversionError) Is(target error) bool { return target == errs.ErrExternal }

// CommandRunner runs an external program and collects its output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec. The child is killed when ctx ends.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 5 * time.Second
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	err := cmd.Run()
	return out.Bytes(), stderr.Bytes(), err
}

// FFmpegTranscoder implements Transcoder using ffmpeg and ffprobe.
type FFmpegTranscoder struct {
	ffmpegPath  string
	ffprobePath string
	bitrate     string
	timeout     time.Duration
	runner      CommandRunner
}

// NewFFmpegTranscoder creates a new FFmpegTranscoder.
func NewFFmpegTranscoder(cfg *config.Config) *FFmpegTranscoder {
	return &FFmpegTranscoder{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobe(),
		bitrate:     cfg.AudioBitrate,
		timeout:     cfg.TranscodeTimeout,
		runner:      ExecRunner{},
	}
}

// WithRunner replaces the command runner.
func (t *FFmpegTranscoder) WithRunner(r CommandRunner) *FFmpegTranscoder {
	t.runner = r
	return t
}

// OutputPath is where the transcoded artifact for inputPath is written.
func OutputPath(inputPath string) string {
	base := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))
	out := base + "." + DeliveryExt
	if out == inputPath {
		out = base + ".transcoded." + DeliveryExt
	}
	return out
}

// Transcode converts inputPath to AAC and probes the duration.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, inputPath string) (Result, error) {
	outputPath := OutputPath(inputPath)

	tctx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-c:a", "aac",
		"-b:a", t.bitrate,
		outputPath,
	}

	start := time.Now()
	logger.Debug("执行 FFmpeg 命令",
		logger.String("cmd", t.ffmpegPath),
		logger.Strings("args", args))

	_, stderr, err := t.runner.Run(tctx, t.ffmpegPath, args...)
	if err != nil {
		os.Remove(outputPath)
		if ctx.Err() != nil {
			return Result{Outcome: Failed, Message: ctx.Err().Error()}, ctx.Err()
		}
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			msg := fmt.Sprintf("ffmpeg killed after %s", t.timeout)
			return Result{Outcome: TimedOut, Message: msg}, fmt.Errorf("%w: %s", ErrTranscodeTimeout, msg)
		}
		convErr := &ConversionError{Input: inputPath, Message: tail(stderr, 512), Err: err}
		return Result{Outcome: Failed, Message: convErr.Message}, convErr
	}

	if _, err := os.Stat(outputPath); err != nil {
		return Result{Outcome: Failed, Message: "output missing"}, fmt.Errorf("%w: %s", ErrConvertedFileNotFound, filepath.Base(outputPath))
	}

	duration, err := t.ProbeDuration(tctx, outputPath)
	if err != nil {
		logger.Warn("无法从输出文件获取时长，尝试源文件",
			logger.String("output", outputPath),
			logger.ErrorField(err))
		var inErr error
		duration, inErr = t.ProbeDuration(tctx, inputPath)
		if inErr != nil {
			os.Remove(outputPath)
			if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return Result{Outcome: TimedOut, Message: "ffprobe timed out"}, fmt.Errorf("%w: ffprobe", ErrTranscodeTimeout)
			}
			return Result{Outcome: Failed, Message: inErr.Error()}, fmt.Errorf("%w: output: %v; input: %v", ErrDurationUnavailable, err, inErr)
		}
	}

	logger.Info("转码完成",
		logger.String("input", inputPath),
		logger.String("output", outputPath),
		logger.Float64("duration", duration),
		logger.Duration("elapsed", time.Since(start)))
	return Result{Outcome: Succeeded, OutputPath: outputPath, Duration: duration}, nil
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration uses ffprobe to get the duration of a media file in seconds.
func (t *FFmpegTranscoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}

	out, stderr, err := t.runner.Run(ctx, t.ffprobePath, args...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w: %s", path, err, tail(stderr, 256))
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out, &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", path, err)
	}
	if probeData.Format.Duration == "" || probeData.Format.Duration == "N/A" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", path)
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration string %q for %s: %w", probeData.Format.Duration, path, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("non-positive duration %v for %s", duration, path)
	}
	return duration, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
