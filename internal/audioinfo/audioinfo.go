// Package audioinfo inspects reference audio samples for validation.
//
// It reads just enough of the WAV or MP3 container to report duration,
// sample rate, and peak amplitude. It is not an audio codec: decoding is
// limited to what sample admission checks require.
package audioinfo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hajimehoshi/go-mp3"
)

// Supported sample formats.
const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// WAV container constants.
const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	pcmFormatCode   = 1

	riffMagic = "RIFF"
	waveMagic = "WAVE"
	fmtChunk  = "fmt "
	dataChunk = "data"
)

// The go-mp3 decoder always emits 16-bit stereo frames.
const mp3BytesPerFrame = 4

// Static errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	ErrMalformed         = errors.New("malformed audio data")
	ErrTruncated         = errors.New("truncated audio data")
)

// Info summarizes a decoded reference sample.
type Info struct {
	Format          string
	DurationSeconds float64
	SampleRate      int
	Channels        int

	// PeakAmplitude is the largest absolute sample value, normalized to
	// [0, 1]. Only meaningful when HasPeak is true; peak scanning is
	// limited to 16-bit PCM.
	PeakAmplitude float64
	HasPeak       bool
}

// Inspect parses the sample and reports its properties. The format must be
// one of FormatWAV or FormatMP3.
func Inspect(data []byte, format string) (Info, error) {
	switch format {
	case FormatWAV:
		return inspectWAV(data)
	case FormatMP3:
		return inspectMP3(data)
	default:
		return Info{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func inspectWAV(data []byte) (Info, error) {
	if len(data) < riffHeaderSize {
		return Info{}, fmt.Errorf("%w: shorter than RIFF header", ErrTruncated)
	}

	if string(data[0:4]) != riffMagic || string(data[8:12]) != waveMagic {
		return Info{}, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrMalformed)
	}

	var (
		formatCode    uint16
		channels      uint16
		sampleRate    uint32
		byteRate      uint32
		bitsPerSample uint16
		pcm           []byte
		haveFmt       bool
	)

	offset := riffHeaderSize
	for offset+chunkHeaderSize <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize

		if chunkSize < 0 || body+chunkSize > len(data) {
			return Info{}, fmt.Errorf("%w: chunk %q exceeds file size", ErrTruncated, chunkID)
		}

		switch chunkID {
		case fmtChunk:
			if chunkSize < 16 {
				return Info{}, fmt.Errorf("%w: fmt chunk too small", ErrMalformed)
			}

			formatCode = binary.LittleEndian.Uint16(data[body : body+2])
			channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
			bitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case dataChunk:
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if !haveFmt || pcm == nil {
		return Info{}, fmt.Errorf("%w: missing fmt or data chunk", ErrMalformed)
	}

	if byteRate == 0 || sampleRate == 0 || channels == 0 {
		return Info{}, fmt.Errorf("%w: zero rate in fmt chunk", ErrMalformed)
	}

	info := Info{
		Format:          FormatWAV,
		DurationSeconds: float64(len(pcm)) / float64(byteRate),
		SampleRate:      int(sampleRate),
		Channels:        int(channels),
		PeakAmplitude:   0,
		HasPeak:         false,
	}

	if formatCode == pcmFormatCode && bitsPerSample == 16 {
		info.PeakAmplitude = peak16(pcm)
		info.HasPeak = true
	}

	return info, nil
}

func inspectMP3(data []byte) (Info, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	sampleRate := decoder.SampleRate()
	if sampleRate == 0 {
		return Info{}, fmt.Errorf("%w: zero sample rate", ErrMalformed)
	}

	return Info{
		Format:          FormatMP3,
		DurationSeconds: float64(len(pcm)) / float64(mp3BytesPerFrame*sampleRate),
		SampleRate:      sampleRate,
		Channels:        2,
		PeakAmplitude:   peak16(pcm),
		HasPeak:         true,
	}, nil
}

// peak16 scans little-endian 16-bit PCM and returns the largest absolute
// sample normalized to [0, 1].
func peak16(pcm []byte) float64 {
	var peak int

	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int(int16(binary.LittleEndian.Uint16(pcm[i : i+2])))
		if sample < 0 {
			sample = -sample
		}

		if sample > peak {
			peak = sample
		}
	}

	return float64(peak) / float64(math.MaxInt16+1)
}
