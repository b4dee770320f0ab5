// Package logging provides structured logging for kravscan.
//
// Logger wraps zap with context-first methods. Correlation data stored in the
// context (trace ids, job id, document name, request id) is attached to every
// entry automatically:
//
//	ctx = logging.WithJobID(ctx, job.ID)
//	ctx = logging.WithDocument(ctx, "spec.pdf")
//	logger.Warn(ctx, "extraction failed", zap.Error(err))
//
// Output goes to stdout (JSON or console) and optionally to an OpenTelemetry
// log provider through the otelzap bridge. Entries below Error are sampled.
// Field keys such as api_key and bearer tokens are redacted before encoding.
//
// Library packages that only need a *zap.Logger take one directly and default
// to zap.NewNop(); use Logger.Underlying() to pass it down.
package logging
