// Package audio provides the PCM types and sample math shared by the
// synthesis pipeline and the playback controller.
//
// Chunks are the unit of audio buffered by the pipeline: synthesized clips
// are split into chunks so that the lookahead buffer can account for memory
// byte-exactly and so playback can begin before a long sentence finishes
// copying. The package deliberately knows nothing about audio devices or
// routing; that is platform plumbing outside this module.
package audio

import "time"

// Chunk is one buffered span of raw little-endian 16-bit PCM.
type Chunk struct {
	// Data is the PCM payload.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int
}

// Duration returns the acoustic length of the chunk.
func (c Chunk) Duration() time.Duration {
	return PCMDuration(len(c.Data), c.SampleRate, c.Channels)
}

// Size returns the chunk's in-memory payload size in bytes.
func (c Chunk) Size() int { return len(c.Data) }

// PCMDuration converts a 16-bit PCM byte count into a duration.
// Invalid formats yield zero.
func PCMDuration(byteLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := byteLen / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Split cuts pcm into chunks of at most maxBytes each, aligned to whole
// sample frames so no chunk ends mid-sample. maxBytes <= 0 yields a single
// chunk containing all data.
func Split(pcm []byte, sampleRate, channels, maxBytes int) []Chunk {
	frame := 2 * channels
	if frame <= 0 {
		frame = 2
	}
	if maxBytes <= 0 || maxBytes >= len(pcm) {
		if len(pcm) == 0 {
			return nil
		}
		return []Chunk{{Data: pcm, SampleRate: sampleRate, Channels: channels}}
	}

	// Round the chunk size down to a frame boundary.
	step := maxBytes - maxBytes%frame
	if step < frame {
		step = frame
	}

	chunks := make([]Chunk, 0, (len(pcm)+step-1)/step)
	for off := 0; off < len(pcm); off += step {
		end := off + step
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, Chunk{
			Data:       pcm[off:end],
			SampleRate: sampleRate,
			Channels:   channels,
		})
	}
	return chunks
}

// TotalSize sums the payload sizes of chunks.
func TotalSize(chunks []Chunk) int {
	total := 0
	for _, c := range chunks {
		total += c.Size()
	}
	return total
}

// TotalDuration sums the acoustic lengths of chunks.
func TotalDuration(chunks []Chunk) time.Duration {
	var total time.Duration
	for _, c := range chunks {
		total += c.Duration()
	}
	return total
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a consumer abandons a streaming
// channel mid-playback.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
