package audio

import "context"

// Transcoder converts an assembled upload into the delivery codec and
// reports its duration.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath string) (Result, error)
}

// Outcome tags how a transcode ended.
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of one transcode. OutputPath and Duration are
// only meaningful when Outcome is Succeeded; Message carries the tool's
// diagnostics otherwise.
type Result struct {
	Outcome    Outcome
	OutputPath string
	Duration   float64 // seconds
	Message    string
}
