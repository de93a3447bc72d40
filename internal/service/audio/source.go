package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrNotWAV is returned when a file is not a RIFF/WAVE PCM file.
var ErrNotWAV = errors.New("not a PCM WAV file")

// Format describes raw linear PCM.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerMs returns how many bytes one millisecond of audio occupies.
func (f Format) BytesPerMs() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8 / 1000
}

// Source yields PCM audio from a WAV file or a raw stream.
type Source struct {
	r      io.Reader
	closer io.Closer
	format Format
}

// OpenWAV opens a WAV file and positions the source at its data chunk.
func OpenWAV(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := NewWAVSource(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src.closer = f
	return src, nil
}

// NewWAVSource reads the RIFF header from r. Chunks other than "fmt " and
// "data" are skipped. Only 16-bit integer PCM is accepted.
func NewWAVSource(r io.Reader) (*Source, error) {
	br := bufio.NewReader(r)

	var riff [12]byte
	if _, err := io.ReadFull(br, riff[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var format Format
	var haveFmt bool
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			return nil, fmt.Errorf("%w: no data chunk", ErrNotWAV)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too short", ErrNotWAV)
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(br, buf); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
			}
			if tag := binary.LittleEndian.Uint16(buf[0:2]); tag != 1 {
				return nil, fmt.Errorf("%w: audio format %d", ErrNotWAV, tag)
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(buf[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(buf[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(buf[14:16])),
			}
			if format.BitsPerSample != 16 {
				return nil, fmt.Errorf("%w: %d-bit samples", ErrNotWAV, format.BitsPerSample)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			return &Source{r: io.LimitReader(br, size), format: format}, nil
		default:
			if _, err := io.CopyN(io.Discard, br, size); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
			}
		}
		// chunks are word aligned
		if size%2 == 1 {
			if _, err := br.Discard(1); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
			}
		}
	}
}

// NewRawSource wraps headerless 16-bit mono PCM at sampleRate.
func NewRawSource(r io.Reader, sampleRate int) *Source {
	return &Source{
		r:      r,
		format: Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16},
	}
}

// Format returns the PCM format of the source.
func (s *Source) Format() Format {
	return s.format
}

// Close releases the underlying file, if any.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Stream reads frames of chunk duration and passes each to fn together with
// its start offset. With pace set, frames are released in real time. Stream
// returns nil at end of input, ctx.Err() on cancellation, or fn's error.
func (s *Source) Stream(ctx context.Context, chunk time.Duration, pace bool, fn func(frame []byte, offsetMs int64) error) error {
	frameMs := chunk.Milliseconds()
	if frameMs <= 0 {
		return fmt.Errorf("chunk duration %v too small", chunk)
	}
	frameBytes := int(frameMs) * s.format.BytesPerMs()
	if frameBytes <= 0 {
		return fmt.Errorf("invalid format %+v", s.format)
	}

	var tick <-chan time.Time
	if pace {
		ticker := time.NewTicker(chunk)
		defer ticker.Stop()
		tick = ticker.C
	}

	var offsetMs int64
	buf := make([]byte, frameBytes)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			// keep whole samples only
			n -= n % (s.format.BitsPerSample / 8 * s.format.Channels)
		}
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			if ferr := fn(frame, offsetMs); ferr != nil {
				return ferr
			}
			offsetMs += int64(n / s.format.BytesPerMs())
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
