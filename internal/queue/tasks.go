package queue

const TypeIngestProcess = "ingest:process"

type IngestProcessPayload struct {
	FileID      string `json:"file_id"`
	ContentType string `json:"content_type"`
	Plan        string `json:"plan"`
}
