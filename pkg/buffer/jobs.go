package buffer

// ProcessBufferPayload is the payload of a process-buffer job. IsEmptySync
// set means the client has nothing buffered and asks for the authoritative
// state instead of a merge pass.
type ProcessBufferPayload struct {
	IsEmptySync bool   `json:"isEmptySync"`
	UserID      string `json:"userId"`
	RequesterID string `json:"requesterId,omitempty"`
}
