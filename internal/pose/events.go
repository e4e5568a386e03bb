package pose

// Event types sent to hosts
const (
	EventDetectionResult = "detectionResult"
	EventError           = "error"
)

// ResultEvent is a DetectionResult tagged for event streams
type ResultEvent struct {
	Type            string `json:"type" msgpack:"type"`
	DetectionResult `msgpack:",inline"`
}

// ErrorEvent is an Error tagged for event streams
type ErrorEvent struct {
	Type string `json:"type" msgpack:"type"`
	Wire `msgpack:",inline"`
}

// NewResultEvent wraps r for an event stream
func NewResultEvent(r DetectionResult) ResultEvent {
	if r.Landmarks == nil {
		r.Landmarks = []Landmark{}
	}
	return ResultEvent{Type: EventDetectionResult, DetectionResult: r}
}

// NewErrorEvent wraps err for an event stream
func NewErrorEvent(err *Error) ErrorEvent {
	return ErrorEvent{Type: EventError, Wire: err.Wire()}
}
