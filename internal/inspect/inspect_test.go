package inspect

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/vansante/go-ffprobe.v2"
)

// stubProbe replaces the ffprobe call for the duration of one test.
func stubProbe(t *testing.T, fn probeFunc) {
	t.Helper()
	prev := probe
	probe = fn
	t.Cleanup(func() { probe = prev })
}

func noProbe(t *testing.T) {
	stubProbe(t, func(context.Context, string, ...string) (*ffprobe.ProbeData, error) {
		return nil, errors.New("ffprobe not installed")
	})
}

func appendBox(buf *bytes.Buffer, boxType string, payload []byte) {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(8+len(payload)))
	copy(header[4:], boxType)
	buf.Write(header[:])
	buf.Write(payload)
}

// appendLargeBox writes a box using the 64-bit extended size form.
func appendLargeBox(buf *bytes.Buffer, boxType string, payload []byte) {
	var header [16]byte
	binary.BigEndian.PutUint32(header[:4], 1)
	copy(header[4:8], boxType)
	binary.BigEndian.PutUint64(header[8:], uint64(16+len(payload)))
	buf.Write(header[:])
	buf.Write(payload)
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.mp4")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInspectFastStart(t *testing.T) {
	noProbe(t)

	var buf bytes.Buffer
	appendBox(&buf, "ftyp", []byte("isom\x00\x00\x02\x00isom"))
	appendBox(&buf, "moov", make([]byte, 32))
	appendBox(&buf, "mdat", make([]byte, 64))

	result, err := Inspect(context.Background(), writeTempFile(t, buf.Bytes()))
	if err != nil {
		t.Fatalf("Inspect() failed: %v", err)
	}
	if result.Container != "mp4" {
		t.Errorf("Container = %q, want mp4", result.Container)
	}
	if len(result.Boxes) != 3 {
		t.Fatalf("Boxes = %+v, want 3 entries", result.Boxes)
	}
	for i, want := range []string{"ftyp", "moov", "mdat"} {
		if result.Boxes[i].Type != want {
			t.Errorf("Boxes[%d].Type = %q, want %q", i, result.Boxes[i].Type, want)
		}
	}
	if result.FastStart == nil || !*result.FastStart {
		t.Errorf("FastStart = %v, want true for moov-before-mdat", result.FastStart)
	}
}

func TestInspectNonFastStart(t *testing.T) {
	noProbe(t)

	var buf bytes.Buffer
	appendBox(&buf, "ftyp", []byte("isom\x00\x00\x02\x00"))
	appendBox(&buf, "mdat", make([]byte, 64))
	appendBox(&buf, "moov", make([]byte, 32))

	result, err := Inspect(context.Background(), writeTempFile(t, buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if result.FastStart == nil || *result.FastStart {
		t.Errorf("FastStart = %v, want false for mdat-before-moov", result.FastStart)
	}
}

func TestInspectExtendedSizeBox(t *testing.T) {
	noProbe(t)

	var buf bytes.Buffer
	appendBox(&buf, "ftyp", []byte("isom\x00\x00\x02\x00"))
	appendLargeBox(&buf, "mdat", make([]byte, 128))
	appendBox(&buf, "moov", make([]byte, 16))

	result, err := Inspect(context.Background(), writeTempFile(t, buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Boxes) != 3 {
		t.Fatalf("Boxes = %+v, want 3 entries", result.Boxes)
	}
	if got := result.Boxes[1]; got.Type != "mdat" || got.Size != 144 {
		t.Errorf("extended-size box = %+v, want mdat with size 144", got)
	}
	if result.Boxes[2].Offset != result.Boxes[1].Offset+144 {
		t.Errorf("box after extended size starts at %d, want %d",
			result.Boxes[2].Offset, result.Boxes[1].Offset+144)
	}
}

func TestInspectSizeZeroExtendsToEOF(t *testing.T) {
	noProbe(t)

	var buf bytes.Buffer
	appendBox(&buf, "ftyp", []byte("isom\x00\x00\x02\x00"))
	appendBox(&buf, "moov", make([]byte, 16))
	// mdat with size 0 runs to end of file.
	var header [8]byte
	copy(header[4:], "mdat")
	buf.Write(header[:])
	buf.Write(make([]byte, 200))

	result, err := Inspect(context.Background(), writeTempFile(t, buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Boxes) != 3 {
		t.Fatalf("Boxes = %+v, want 3 entries", result.Boxes)
	}
	if got := result.Boxes[2]; got.Type != "mdat" || got.Size != 208 {
		t.Errorf("size-zero box = %+v, want mdat covering the remaining 208 bytes", got)
	}
	if result.FastStart == nil || !*result.FastStart {
		t.Errorf("FastStart = %v, want true", result.FastStart)
	}
}

func TestInspectNonContainerFile(t *testing.T) {
	noProbe(t)

	path := writeTempFile(t, []byte("\xff\xd8\xff\xe0 not an mp4 at all, just bytes"))
	result, err := Inspect(context.Background(), path)
	if err != nil {
		t.Fatalf("Inspect() failed: %v", err)
	}
	if result.Container != "" || len(result.Boxes) != 0 {
		t.Errorf("non-container file reported as %q with boxes %+v", result.Container, result.Boxes)
	}
	if result.FastStart != nil {
		t.Error("FastStart set for non-container file")
	}
}

func TestInspectProbeEnrichment(t *testing.T) {
	stubProbe(t, func(context.Context, string, ...string) (*ffprobe.ProbeData, error) {
		return &ffprobe.ProbeData{
			Format: &ffprobe.Format{DurationSeconds: 12.5},
			Streams: []*ffprobe.Stream{
				{CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080},
				{CodecType: "audio", CodecName: "aac"},
			},
		}, nil
	})

	var buf bytes.Buffer
	appendBox(&buf, "ftyp", []byte("isom\x00\x00\x02\x00"))
	appendBox(&buf, "moov", make([]byte, 16))
	appendBox(&buf, "mdat", make([]byte, 16))

	result, err := Inspect(context.Background(), writeTempFile(t, buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if result.VideoCodec != "h264" || result.AudioCodec != "aac" {
		t.Errorf("codecs = %q/%q, want h264/aac", result.VideoCodec, result.AudioCodec)
	}
	if result.Width != 1920 || result.Height != 1080 {
		t.Errorf("dimensions = %dx%d, want 1920x1080", result.Width, result.Height)
	}
	if result.DurationSec != 12.5 {
		t.Errorf("DurationSec = %v, want 12.5", result.DurationSec)
	}
}

func TestInspectMissingFile(t *testing.T) {
	noProbe(t)

	if _, err := Inspect(context.Background(), filepath.Join(t.TempDir(), "nope.mp4")); err == nil {
		t.Error("Inspect() succeeded on a missing file")
	}
}
