package catalog

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WriteWAV writes a canonical PCM WAVE file holding data to w. Big-endian
// formats are written as RIFX.
//
// Parameters:
//   - w: Destination
//   - f: Format of data; Encoding must be a PCM encoding
//   - data: Raw sample frames
//
// Returns:
//   - An error if f cannot be expressed as PCM WAVE or writing fails
func WriteWAV(w io.Writer, f AudioFormat, data []byte) error {
	if f.Encoding != EncodingPCMSigned && f.Encoding != EncodingPCMUnsigned {
		return fmt.Errorf("%w: cannot write %s", ErrUnsupportedFormat, f.Encoding)
	}

	var order binary.ByteOrder = binary.LittleEndian
	magic := "RIFF"
	if f.BigEndian {
		order = binary.BigEndian
		magic = "RIFX"
	}

	header := make([]byte, 44)
	copy(header[0:4], magic)
	order.PutUint32(header[4:8], uint32(36+len(data)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	order.PutUint32(header[16:20], 16)
	order.PutUint16(header[20:22], wavTagPCM)
	order.PutUint16(header[22:24], uint16(f.Channels))
	order.PutUint32(header[24:28], uint32(f.SampleRate))
	order.PutUint32(header[28:32], uint32(f.SampleRate)*uint32(f.FrameSize))
	order.PutUint16(header[32:34], uint16(f.FrameSize))
	order.PutUint16(header[34:36], uint16(f.Bits))
	copy(header[36:40], "data")
	order.PutUint32(header[40:44], uint32(len(data)))

	if _, err := w.Write(header); err != nil {
		return err
	}

	_, err := w.Write(data)
	return err
}

// Tone returns the given number of seconds of a 16-bit stereo sine wave at hz, little-endian,
// matching CDQuality.
func Tone(hz float64, seconds float64) []byte {
	f := CDQuality()
	frames := int(f.SampleRate * seconds)
	out := make([]byte, frames*f.FrameSize)

	for i := range frames {
		v := int16(math.Sin(2*math.Pi*hz*float64(i)/f.SampleRate) * math.MaxInt16 / 4)
		binary.LittleEndian.PutUint16(out[i*4:], uint16(v))
		binary.LittleEndian.PutUint16(out[i*4+2:], uint16(v))
	}

	return out
}

// CDQuality is 44.1 kHz, 16-bit, stereo, little-endian signed PCM.
func CDQuality() AudioFormat {
	return AudioFormat{
		Encoding:   EncodingPCMSigned,
		SampleRate: 44100,
		Bits:       16,
		Channels:   2,
		FrameSize:  4,
		FrameRate:  44100,
	}
}
