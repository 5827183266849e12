package audio

import (
	"bytes"
	"encoding/binary"
)

// WAV container constants for 16-bit linear PCM.
const (
	wavHeaderSize  = 44
	pcmFormatTag   = 1
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
)

// EncodeWAV wraps raw s16le PCM data in a minimal RIFF/WAVE container.
// Transcription endpoints that accept file uploads (e.g., the OpenAI audio
// API) require a container; this produces the smallest valid one.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	byteRate := sampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(pcmFormatTag))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
