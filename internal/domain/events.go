package domain

// Phase names the pipeline stage a progress event refers to.
type Phase string

const (
	PhaseExtracting  Phase = "extracting"
	PhaseTranscoding Phase = "transcoding"
	PhaseArchiving   Phase = "archiving"
	PhaseUploading   Phase = "uploading"
)

// ProgressEvent is one observation of pipeline progress. Percent is in
// [0,100]; Indeterminate marks events where no percentage is known.
// For multi-track sources Done/Total count resolved tracks.
type ProgressEvent struct {
	Phase         Phase
	Percent       float64
	Indeterminate bool
	Detail        string
	Done          int
	Total         int
}
