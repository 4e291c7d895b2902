package engine

// Progress is an immutable snapshot of a transfer. It is recomputed on every
// update and never mutated in place.
type Progress struct {
	BytesTransferred int64 `json:"bytes_transferred"`
	// TotalBytes is 0 while the size is unknown.
	TotalBytes int64 `json:"total_bytes"`
	// Speed is the instantaneous throughput in bytes per second.
	Speed int64 `json:"speed"`
}

// NewProgress builds a Progress, clamping negative values to zero and the
// transferred count to the total once the total is known.
func NewProgress(transferred, total, speed int64) Progress {
	if transferred < 0 {
		transferred = 0
	}
	if total < 0 {
		total = 0
	}
	if speed < 0 {
		speed = 0
	}
	if total > 0 && transferred > total {
		transferred = total
	}
	return Progress{
		BytesTransferred: transferred,
		TotalBytes:       total,
		Speed:            speed,
	}
}

// Percentage returns floor(transferred*100/total), or 0 when the total is unknown.
func (p Progress) Percentage() int {
	if p.TotalBytes <= 0 {
		return 0
	}
	return int(p.BytesTransferred * 100 / p.TotalBytes)
}

// Fraction returns the completed share in the range 0..1.
func (p Progress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	f := float64(p.BytesTransferred) / float64(p.TotalBytes)
	if f > 1 {
		return 1
	}
	return f
}

// IsActive reports whether some but not all bytes have moved.
func (p Progress) IsActive() bool {
	return p.BytesTransferred > 0 && p.BytesTransferred < p.TotalBytes
}

// normalized re-applies the clamping rules of NewProgress.
func (p Progress) normalized() Progress {
	return NewProgress(p.BytesTransferred, p.TotalBytes, p.Speed)
}
