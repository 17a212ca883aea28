package repo

// Key identifies an object. Equality is byte-identity; the repository
// never interprets a key's contents.
type Key [32]byte

// Location points at the authoritative PUT record for a key: the segment
// that holds it and the byte offset of the record within that segment's
// store file.
type Location struct {
	Segment uint32
	Offset  uint32
}
