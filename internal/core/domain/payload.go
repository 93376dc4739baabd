package domain

// Payload carries the type-specific parameters of a job. Exactly one of
// the fields matching the job's Type is set; handlers switch on the job
// type instead of probing a generic map.
type Payload struct {
	Generate *GeneratePayload `json:"generate,omitempty"`
	Upload   *UploadPayload   `json:"upload,omitempty"`
	Existing *ExistingPayload `json:"existing,omitempty"`
}

// GeneratePayload describes a generate_video job.
type GeneratePayload struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
}

// UploadPayload describes an upload_video job.
type UploadPayload struct {
	FilePath string         `json:"file_path"`
	Metadata *VideoMetadata `json:"metadata,omitempty"`
}

// ExistingPayload describes a process_existing_video job.
type ExistingPayload struct {
	FilePath string         `json:"file_path"`
	Metadata *VideoMetadata `json:"metadata,omitempty"`
}

// VideoMetadata is the caller-supplied slice of video metadata. Empty
// fields are filled in by the metadata builder before upload.
type VideoMetadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Category    string   `json:"category,omitempty"`
	Privacy     string   `json:"privacy,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
}
