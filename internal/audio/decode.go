package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var (
	// ErrEmptyAudio is returned when a file decodes to zero samples.
	ErrEmptyAudio = errors.New("audio: no samples")
	// ErrUnsupportedFormat is returned for content that is neither WAV nor MP3,
	// and for WAV sample encodings other than integer PCM or IEEE float.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE

	maxFmtChunk = 1 << 10
)

// wavSubFormatSuffix is the fixed tail of the KSDATAFORMAT_SUBTYPE GUIDs; the
// first two bytes carry the format tag.
var wavSubFormatSuffix = []byte{0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}

// Clip is a decoded mono waveform with samples in [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
}

// DecodeFile decodes the WAV or MP3 file at path.
func DecodeFile(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode sniffs the container from the first bytes of r and decodes it to a
// mono clip. Multi-channel audio is downmixed by averaging.
func Decode(r io.ReadSeeker) (Clip, error) {
	head := make([]byte, 12)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return Clip{}, ErrEmptyAudio
		}
		return Clip{}, fmt.Errorf("read header: %w", err)
	}
	head = head[:n]
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Clip{}, fmt.Errorf("rewind: %w", err)
	}

	var clip Clip
	switch {
	case isWAV(head):
		clip, err = decodeWAV(r)
	case isMP3(head):
		clip, err = decodeMP3(r)
	default:
		return Clip{}, ErrUnsupportedFormat
	}
	if err != nil {
		return Clip{}, err
	}
	if len(clip.Samples) == 0 {
		return Clip{}, ErrEmptyAudio
	}
	return clip, nil
}

func isWAV(head []byte) bool {
	return len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WAVE"))
}

func isMP3(head []byte) bool {
	if len(head) >= 3 && bytes.Equal(head[:3], []byte("ID3")) {
		return true
	}
	// MPEG audio frame sync: 11 set bits.
	return len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0
}

func decodeWAV(r io.ReadSeeker) (Clip, error) {
	format, err := wavSampleFormat(r)
	if err != nil {
		return Clip{}, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Clip{}, fmt.Errorf("rewind: %w", err)
	}

	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, fmt.Errorf("%w: invalid wav file", ErrUnsupportedFormat)
	}
	sr := int(dec.SampleRate)
	if sr <= 0 {
		return Clip{}, fmt.Errorf("decode wav: invalid sample rate %d", sr)
	}

	var interleaved []float64
	switch format {
	case wavFormatPCM:
		interleaved, err = wavPCMSamples(dec)
	case wavFormatFloat:
		interleaved, err = wavFloatSamples(dec)
	default:
		return Clip{}, fmt.Errorf("%w: wav encoding %#x", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return Clip{}, err
	}
	return Clip{Samples: downmix(interleaved, int(dec.NumChans)), SampleRate: sr}, nil
}

// wavSampleFormat returns the sample encoding declared by the fmt chunk,
// resolving WAVE_FORMAT_EXTENSIBLE to its SubFormat. The wav decoder only
// exposes the outer format tag.
func wavSampleFormat(r io.ReadSeeker) (uint16, error) {
	if _, err := r.Seek(12, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek wav: %w", err)
	}
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return 0, fmt.Errorf("%w: wav has no fmt chunk", ErrUnsupportedFormat)
		}
		size := int64(binary.LittleEndian.Uint32(hdr[4:]))
		if string(hdr[:4]) != "fmt " {
			// Chunks are word aligned.
			if _, err := r.Seek(size+size&1, io.SeekCurrent); err != nil {
				return 0, fmt.Errorf("seek wav: %w", err)
			}
			continue
		}
		if size < 16 || size > maxFmtChunk {
			return 0, fmt.Errorf("%w: fmt chunk of %d bytes", ErrUnsupportedFormat, size)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, fmt.Errorf("%w: truncated fmt chunk", ErrUnsupportedFormat)
		}
		format := binary.LittleEndian.Uint16(body)
		if format != wavFormatExtensible {
			return format, nil
		}
		if len(body) < 40 || !bytes.Equal(body[26:40], wavSubFormatSuffix) {
			return 0, fmt.Errorf("%w: unknown extensible sub-format", ErrUnsupportedFormat)
		}
		return binary.LittleEndian.Uint16(body[24:]), nil
	}
}

// wavPCMSamples returns interleaved integer PCM scaled to [-1, 1).
func wavPCMSamples(dec *wav.Decoder) ([]float64, error) {
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil {
		return nil, ErrEmptyAudio
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	scale := float64(int64(1) << (bitDepth - 1))
	// 8-bit PCM is unsigned.
	var offset float64
	if bitDepth == 8 {
		offset = 128
	}
	out := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = (float64(v) - offset) / scale
	}
	return out, nil
}

// wavFloatSamples returns interleaved IEEE float samples as stored.
func wavFloatSamples(dec *wav.Decoder) ([]float64, error) {
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if dec.PCMChunk == nil {
		return nil, ErrEmptyAudio
	}
	data, err := io.ReadAll(dec.PCMChunk)
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	switch dec.BitDepth {
	case 32:
		out := make([]float64, len(data)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
		return out, nil
	case 64:
		out := make([]float64, len(data)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d-bit float wav", ErrUnsupportedFormat, dec.BitDepth)
	}
}

// downmix averages interleaved frames to mono.
func downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}
	out := make([]float64, len(interleaved)/channels)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}

func decodeMP3(r io.Reader) (Clip, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return Clip{}, fmt.Errorf("decode mp3: %w", err)
	}
	// go-mp3 always produces interleaved 16-bit little-endian stereo.
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return Clip{}, fmt.Errorf("decode mp3: %w", err)
	}
	frames := len(pcm) / 4
	out := make([]float64, frames)
	for i := range out {
		l := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		rr := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		out[i] = (float64(l) + float64(rr)) / 2 / 32768
	}
	return Clip{Samples: out, SampleRate: dec.SampleRate()}, nil
}
