package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

// Telephony PCM: 16-bit little endian, mono, 8000 Hz.
const (
	SampleRate     = 8000
	bitsPerSample  = 16
	numChannels    = 1
	bytesPerSample = bitsPerSample / 8
)

// PCMToWAV wraps raw telephony PCM in a WAV container.
func PCMToWAV(pcmData []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcmData))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(SampleRate*numChannels*bytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(numChannels*bytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}

// SilenceWAV returns d of digital silence as a WAV clip, used as the media of
// the silent holding bridge.
func SilenceWAV(d time.Duration) []byte {
	samples := int(d.Seconds() * SampleRate)
	if samples < 0 {
		samples = 0
	}
	return PCMToWAV(make([]byte, samples*bytesPerSample*numChannels))
}
