package model

// EventLogRow is one persisted envelope. Seq is the replay cursor and the
// global total order of the stream.
type EventLogRow struct {
	Envelope Envelope
	Seq      int64
}
