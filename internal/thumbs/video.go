package thumbs

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strconv"
)

// generateVideo extracts one frame with ffmpeg and encodes it like an image
// thumbnail. A failed seek to the configured offset (streams shorter than
// the offset, broken indexes) retries from the start of the stream.
func (s *Store) generateVideo(srcPath, thumbPath string) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}

	frame, err := extractFrame(srcPath, thumbPath, s.cfg.TimeSec)
	if err != nil && s.cfg.TimeSec > 0 {
		frame, err = extractFrame(srcPath, thumbPath, 0)
	}
	if err != nil {
		return err
	}

	return s.encodeFrame(s.resize(frame), thumbPath)
}

// extractFrame has ffmpeg write one frame to a sibling temp file next to the
// thumbnail and decodes it from there. The temp file is removed whether
// decoding succeeds or fails.
func extractFrame(path, thumbPath string, offset float64) (image.Image, error) {
	tmp := thumbPath + ".tmp.jpg"
	defer os.Remove(tmp)

	var args []string
	// -ss before -i seeks on the demuxer, which is fast for keyframes.
	if offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(offset, 'f', -1, 64))
	}
	args = append(args,
		"-i", path,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		tmp,
	)

	cmd := exec.Command("ffmpeg", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed for %s: %v, stderr: %s", path, err, stderrTail(&stderr))
	}

	f, err := os.Open(tmp)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg produced no frame for %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode extracted frame for %s: %w", path, err)
	}
	return img, nil
}

// stderrTail keeps error messages bounded; ffmpeg is chatty and only the
// last lines matter.
func stderrTail(buf *bytes.Buffer) string {
	const max = 400
	b := buf.Bytes()
	if len(b) > max {
		b = b[len(b)-max:]
	}
	return string(b)
}
