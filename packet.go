package hwve

// Packet is one compressed bitstream unit.
//
// The storage behind Data is owned by the encoder session: it stays
// valid only until the next DrainPacket call or until Close, whichever
// comes first. Copy or fully consume it before draining again.
type Packet struct {
	Data     []byte
	PTS      int64
	KeyFrame bool
}
