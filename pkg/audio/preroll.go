package audio

// PreRollBuffer is a fixed-capacity ring of recent frames captured before
// speech onset. When the buffer is full the oldest frame is overwritten, so
// its length never exceeds the configured capacity regardless of how long
// the pipeline stays armed.
//
// PreRollBuffer is used from the segmentation engine's single consumer
// goroutine and is not safe for concurrent use.
type PreRollBuffer struct {
	frames []Frame
	head   int
	size   int
}

// NewPreRollBuffer creates a ring holding at most capacity frames. A
// non-positive capacity yields a buffer that stores nothing.
func NewPreRollBuffer(capacity int) *PreRollBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &PreRollBuffer{frames: make([]Frame, capacity)}
}

// Add records a frame, evicting the oldest when the ring is full.
func (b *PreRollBuffer) Add(f Frame) {
	if len(b.frames) == 0 {
		return
	}
	idx := (b.head + b.size) % len(b.frames)
	if b.size == len(b.frames) {
		// Full: overwrite the oldest slot and advance head.
		idx = b.head
		b.head = (b.head + 1) % len(b.frames)
	} else {
		b.size++
	}
	b.frames[idx] = f
}

// Snapshot returns the buffered frames in chronological order. The returned
// slice is a copy; the ring is left intact.
func (b *PreRollBuffer) Snapshot() []Frame {
	out := make([]Frame, 0, b.size)
	for i := range b.size {
		out = append(out, b.frames[(b.head+i)%len(b.frames)])
	}
	return out
}

// Reset discards all buffered frames.
func (b *PreRollBuffer) Reset() {
	b.head = 0
	b.size = 0
	clear(b.frames)
}

// Len returns the number of buffered frames.
func (b *PreRollBuffer) Len() int { return b.size }

// Cap returns the configured capacity.
func (b *PreRollBuffer) Cap() int { return len(b.frames) }
