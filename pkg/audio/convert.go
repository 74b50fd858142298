package audio

// DecodePCM16 decodes little-endian int16 PCM into dst, growing it only when
// its capacity is too small, and returns the filled slice. A trailing odd
// byte is ignored.
func DecodePCM16(dst []int16, pcm []byte) []int16 {
	n := len(pcm) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := range n {
		dst[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}
	return dst
}

// EncodePCM16 writes samples into pcm as little-endian int16 and returns the
// number of samples written, which is limited by len(pcm)/2.
func EncodePCM16(pcm []byte, samples []int16) int {
	n := min(len(samples), len(pcm)/2)
	for i := range n {
		s := samples[i]
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(s >> 8)
	}
	return n
}

// Downmix averages interleaved frames of the given channel count into dst,
// growing it only when needed. Uses int32 arithmetic to prevent overflow.
func Downmix(dst, interleaved []int16, channels int) []int16 {
	if channels <= 1 {
		if cap(dst) < len(interleaved) {
			dst = make([]int16, len(interleaved))
		}
		dst = dst[:len(interleaved)]
		copy(dst, interleaved)
		return dst
	}
	frames := len(interleaved) / channels
	if cap(dst) < frames {
		dst = make([]int16, frames)
	}
	dst = dst[:frames]
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(interleaved[i*channels+c])
		}
		dst[i] = int16(sum / int32(channels))
	}
	return dst
}
