package models

// Status is the service summary returned by /api/status and the status command.
type Status struct {
	Articles       int64  `json:"articles"`
	Users          int    `json:"users"`
	LastImageID    int64  `json:"lastImageId"`
	FootprintBytes int64  `json:"footprintBytes,omitempty"`
	IndexedDocs    uint64 `json:"indexedDocs"`
	StorageBackend string `json:"storageBackend"`
	ImageBackend   string `json:"imageBackend"`
}
