package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

// pcm16 encodes int16 samples as little-endian bytes.
func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestPCMToFloat32(t *testing.T) {
	in := pcm16(0, 16384, -16384, 32767, -32768)
	got := PCMToFloat32(in)

	want := []float32{0, 0.5, -0.5, 32767.0 / 32768.0, -1.0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat32_OddTrailingByte(t *testing.T) {
	in := append(pcm16(1000), 0xAB)
	got := PCMToFloat32(in)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (trailing byte ignored)", len(got))
	}
}

func TestPCMToFloat32Mono_DownmixesStereo(t *testing.T) {
	// Interleaved stereo: L=16384, R=-16384 should average to 0.
	in := pcm16(16384, -16384, 8192, 8192)
	got := PCMToFloat32Mono(in, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if math.Abs(float64(got[0])) > 1e-6 {
		t.Errorf("sample 0 = %v, want 0", got[0])
	}
	if math.Abs(float64(got[1]-0.25)) > 1e-6 {
		t.Errorf("sample 1 = %v, want 0.25", got[1])
	}
}

func TestRMSEnergy(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, 0},
		{"silence", pcm16(0, 0, 0, 0), 0},
		{"half scale", pcm16(16384, -16384, 16384, -16384), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMSEnergy(tt.pcm)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("RMSEnergy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := pcm16(1, 2, 3, 4)
	wav := EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if sr := binary.LittleEndian.Uint32(wav[24:28]); sr != 16000 {
		t.Errorf("sample rate = %d, want 16000", sr)
	}
	if dataLen := binary.LittleEndian.Uint32(wav[40:44]); int(dataLen) != len(pcm) {
		t.Errorf("data length = %d, want %d", dataLen, len(pcm))
	}
}
