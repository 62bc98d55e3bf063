package v3

// Sequence numbers are 16-bit serial numbers compared per RFC 1982 so
// they keep ordering across wraparound.
const sequenceDividingPoint = 32768

// SequenceNumber is a v3 entry sequence number.
type SequenceNumber uint16

// Newer reports whether s is strictly newer than other under RFC 1982
// serial arithmetic.
func (s SequenceNumber) Newer(other SequenceNumber) bool {
	return (s > other && s-other < sequenceDividingPoint) ||
		(s < other && other-s > sequenceDividingPoint)
}

// Next returns the following sequence number.
func (s SequenceNumber) Next() SequenceNumber {
	return s + 1
}
