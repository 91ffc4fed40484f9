package services

import "fmt"

const (
	ErrKindInput         = "input_error"
	ErrKindEmbedding     = "embedding_service_error"
	ErrKindClustering    = "clustering_error"
	ErrKindLabeling      = "labeling_error"
	ErrKindEvidenceTier  = "evidence_tier_error"
	ErrKindApplyConflict = "apply_conflict"
	ErrKindInternal      = "internal_error"
)

// PipelineError carries the structured {kind, message} payload persisted on a
// failed generation and surfaced by the status endpoint.
type PipelineError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind
}

func (e *PipelineError) Unwrap() error { return e.Err }

func newPipelineError(kind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapPipelineError(kind string, err error, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewInputError(format string, args ...any) *PipelineError {
	return newPipelineError(ErrKindInput, format, args...)
}

func NewEmbeddingServiceError(err error, format string, args ...any) *PipelineError {
	return wrapPipelineError(ErrKindEmbedding, err, format, args...)
}

func NewClusteringError(format string, args ...any) *PipelineError {
	return newPipelineError(ErrKindClustering, format, args...)
}

func NewLabelingError(format string, args ...any) *PipelineError {
	return newPipelineError(ErrKindLabeling, format, args...)
}

func NewEvidenceTierError(tier string, err error) *PipelineError {
	return &PipelineError{Kind: ErrKindEvidenceTier, Message: fmt.Sprintf("tier %s unreachable", tier), Err: err}
}

func NewApplyConflictError(format string, args ...any) *PipelineError {
	return newPipelineError(ErrKindApplyConflict, format, args...)
}
