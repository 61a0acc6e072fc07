// Package audio holds the PCM sample codec and the playback queue shared by
// the client pipeline and the relay tests.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// Wire rates
const (
	InputRate  = 16000 // client -> relay
	OutputRate = 24000 // relay -> client
)

// MIME type tags for PCM on the wire
const (
	InputMIMEType  = "audio/pcm;rate=16000"
	OutputMIMEType = "audio/pcm;rate=24000"
)

// EncodePCM converts float samples to 16-bit little-endian PCM.
// Samples are clamped to [-1,1]; negatives scale by 32768, the rest by 32767.
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7fff)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM converts 16-bit little-endian PCM to float samples using the same
// asymmetric scale as EncodePCM. A trailing odd byte is ignored.
func DecodePCM(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7fff
		}
	}
	return out
}

// Encode converts float samples to the base64 wire form.
func Encode(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM(samples))
}

// Decode converts a base64 wire blob back to float samples.
func Decode(blob string) ([]float32, error) {
	pcm, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	return DecodePCM(pcm), nil
}

// Resample converts samples from inRate to outRate with linear interpolation.
// No anti-aliasing filter is applied. When the rates match the input slice is
// returned as is.
func Resample(samples []float32, inRate, outRate int) []float32 {
	if inRate == outRate || inRate <= 0 || outRate <= 0 {
		return samples
	}
	if len(samples) == 0 {
		return []float32{}
	}
	ratio := float64(inRate) / float64(outRate)
	outLen := len(samples) * outRate / inRate
	out := make([]float32, outLen)
	last := len(samples) - 1
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		i0 := int(pos)
		if i0 > last {
			i0 = last
		}
		i1 := i0 + 1
		if i1 > last {
			i1 = last
		}
		frac := float32(pos - float64(i0))
		out[i] = samples[i0] + (samples[i1]-samples[i0])*frac
	}
	return out
}

// RMS returns the root-mean-square energy of samples, 0 when empty.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
