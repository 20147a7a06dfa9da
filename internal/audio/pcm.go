package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrOddLength is returned when a PCM16 payload has a dangling byte.
var ErrOddLength = errors.New("pcm16 payload has odd length")

// RMS returns the root-mean-square amplitude of float samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// EncodePCM16 converts float samples to little-endian signed 16-bit PCM,
// clamping to [-1, 1].
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

// DecodePCM16 converts little-endian PCM16 bytes to samples.
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// Int16ToFloat32 maps PCM16 samples into [-1, 1).
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Duration is the play time of n mono samples at rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// Samples converts a duration into a sample count at rate, rounded to the
// nearest sample so that Samples(Duration(n, rate), rate) == n.
func Samples(d time.Duration, rate int) int64 {
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}

// DownmixDecimate turns interleaved stereo int16 at a high rate into mono
// float samples at rate/factor by averaging each block of frames.
func DownmixDecimate(interleaved []int16, channels, factor int) []float32 {
	if channels <= 0 || factor <= 0 {
		return nil
	}
	frames := len(interleaved) / channels
	out := make([]float32, 0, frames/factor)
	for f := 0; f+factor <= frames; f += factor {
		var sum float64
		for k := 0; k < factor; k++ {
			for c := 0; c < channels; c++ {
				sum += float64(interleaved[(f+k)*channels+c])
			}
		}
		out = append(out, float32(sum/float64(factor*channels)/32768))
	}
	return out
}

// UpsampleStereo repeats each mono sample factor times on every channel.
func UpsampleStereo(mono []int16, channels, factor int) []int16 {
	out := make([]int16, 0, len(mono)*factor*channels)
	for _, s := range mono {
		for k := 0; k < factor*channels; k++ {
			out = append(out, s)
		}
	}
	return out
}

// BuildWAV creates a RIFF/WAVE container for 16-bit PCM data.
func BuildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}
