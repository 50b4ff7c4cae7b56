// Package log provides the structured logging abstraction used across
// fallbatch components.
//
// Components accept a Logger and never import a logging library directly.
// A zerolog-backed implementation is provided for binaries and a no-op
// implementation is the default for library use and tests:
//
//	logger := log.NewZerologAdapter(zerolog.InfoLevel)
//	batcher := app.NewMicroBatcher(fn, app.WithBatcherLogger[In, Out](logger))
//
// Child loggers carry fixed fields, which is how the batcher and the
// executor tag every line with their instance name:
//
//	l := logger.With(log.String("component", "batcher"))
package log
