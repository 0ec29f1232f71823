// Package inspect reports container-level diagnostics for media files: the
// top-level MP4 box layout (including whether the moov atom precedes mdat,
// which decides if playback can start before the download finishes) plus
// codec details from ffprobe when it is installed.
package inspect

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/vansante/go-ffprobe.v2"

	"media-library/internal/logging"
)

// probeFunc matches ffprobe.ProbeURL; injectable for tests.
type probeFunc func(ctx context.Context, path string, extraOpts ...string) (*ffprobe.ProbeData, error)

var probe probeFunc = ffprobe.ProbeURL

const probeTimeout = 10 * time.Second

// Box is one top-level container box.
type Box struct {
	Type   string `json:"type"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
}

// Result is the inspection report for one file.
type Result struct {
	Container string `json:"container,omitempty"`
	Boxes     []Box  `json:"boxes,omitempty"`

	// FastStart is set for MP4 files: true when moov precedes mdat.
	FastStart *bool `json:"fastStart,omitempty"`

	// Codec details, present only when ffprobe is available and succeeds.
	VideoCodec  string  `json:"videoCodec,omitempty"`
	AudioCodec  string  `json:"audioCodec,omitempty"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	DurationSec float64 `json:"durationSec,omitempty"`
}

// Inspect analyzes a media file. The box scan never requires external tools;
// the ffprobe enrichment is best effort and its absence is not an error.
func Inspect(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	result := &Result{}
	if boxes, err := scanBoxes(f); err == nil && len(boxes) > 0 {
		result.Container = "mp4"
		result.Boxes = boxes
		result.FastStart = fastStart(boxes)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if data, err := probe(probeCtx, path); err == nil {
		fillFromProbe(result, data)
	} else {
		logging.Debug("ffprobe unavailable for %s: %v", path, err)
	}

	return result, nil
}

// scanBoxes walks the top-level box headers of an ISO base media file.
// Returns an error (or no boxes) for files that are not box-structured.
func scanBoxes(f *os.File) ([]Box, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := info.Size()

	var boxes []Box
	var offset int64

	for offset+8 <= fileSize {
		header := make([]byte, 8)
		if _, err := f.ReadAt(header, offset); err != nil {
			return boxes, err
		}

		size := int64(binary.BigEndian.Uint32(header[:4]))
		boxType := string(header[4:8])
		if !validBoxType(boxType) {
			if len(boxes) == 0 {
				return nil, fmt.Errorf("not a box-structured file")
			}
			return boxes, nil
		}

		headerLen := int64(8)
		switch size {
		case 0:
			// Box extends to end of file.
			size = fileSize - offset
		case 1:
			// 64-bit size in the following 8 bytes.
			large := make([]byte, 8)
			if _, err := f.ReadAt(large, offset+8); err != nil {
				if err == io.EOF {
					return boxes, nil
				}
				return boxes, err
			}
			size = int64(binary.BigEndian.Uint64(large))
			headerLen = 16
		}
		if size < headerLen || offset+size > fileSize {
			// Truncated or corrupt; report what was seen so far.
			return boxes, nil
		}

		boxes = append(boxes, Box{Type: boxType, Offset: offset, Size: size})
		offset += size
	}

	return boxes, nil
}

// validBoxType accepts printable-ASCII four-character codes.
func validBoxType(t string) bool {
	for i := 0; i < len(t); i++ {
		if t[i] < 0x20 || t[i] > 0x7e {
			return false
		}
	}
	return len(t) == 4
}

// fastStart reports whether moov precedes mdat; nil when either is absent.
func fastStart(boxes []Box) *bool {
	moov, mdat := -1, -1
	for i, b := range boxes {
		switch b.Type {
		case "moov":
			if moov == -1 {
				moov = i
			}
		case "mdat":
			if mdat == -1 {
				mdat = i
			}
		}
	}
	if moov == -1 || mdat == -1 {
		return nil
	}
	fast := moov < mdat
	return &fast
}

func fillFromProbe(result *Result, data *ffprobe.ProbeData) {
	if data == nil {
		return
	}
	if v := data.FirstVideoStream(); v != nil {
		result.VideoCodec = v.CodecName
		result.Width = v.Width
		result.Height = v.Height
	}
	if a := data.FirstAudioStream(); a != nil {
		result.AudioCodec = a.CodecName
	}
	if data.Format != nil {
		result.DurationSec = data.Format.DurationSeconds
	}
}
