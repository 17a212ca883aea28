package repo

// Config bundles a Repository's tunables. Zero values are replaced with
// defaults in NewRepository, the same style the teacher's log.Config
// uses for its Segment.MaxStoreBytes/MaxIndexBytes fields.
type Config struct {
	// MaxSegmentBytes bounds how large the active segment's store file is
	// allowed to grow before the log rotates to a new one.
	MaxSegmentBytes uint64

	// MaxPayloadBytes bounds a single Put's payload. Payloads larger than
	// DefaultMaxPayloadBytes are rejected whatever this is set to.
	MaxPayloadBytes int

	// CacheEntries bounds the number of payloads kept in the read-through
	// cache. Zero selects the default of 1024 entries.
	CacheEntries int
}

func (c Config) withDefaults() Config {
	if c.MaxSegmentBytes == 0 {
		c.MaxSegmentBytes = DefaultMaxSegmentBytes
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if c.CacheEntries == 0 {
		c.CacheEntries = 1024
	}
	return c
}
