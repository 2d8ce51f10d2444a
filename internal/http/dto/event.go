package dto

type IngestEventResponse struct {
	EventID  string `json:"eventId"`
	StreamID int64  `json:"streamId"`
	Accepted bool   `json:"accepted"`
	Deduped  bool   `json:"deduped"`
}

type InvalidEventResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details"`
}
