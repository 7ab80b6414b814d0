package engine

import (
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

// commonlogSink writes diagnostics through commonlog, the same message
// sink the teacher engine's LSP front-end logs through.
type commonlogSink struct{}

// NewCommonlogSink returns the default DiagnosticSink, backed by
// commonlog's simple console backend.
func NewCommonlogSink() DiagnosticSink {
	return commonlogSink{}
}

func (commonlogSink) Info(msg string) {
	commonlog.NewInfoMessage(0, msg)
}

func (commonlogSink) Warning(msg string) {
	commonlog.NewWarningMessage(0, msg)
}

func (commonlogSink) Error(msg string) {
	commonlog.NewErrorMessage(0, msg)
}
