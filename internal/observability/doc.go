// Package observability provides logging and metrics support for the
// screening workflow service.
//
// # Logging
//
// Create a logger from configuration and scope it per component:
//
//	logger := observability.NewLogger(observability.LoggingConfig{Level: "info", Format: "json"})
//	logger = logger.With().Str("component", "screening").Logger()
//
// Attach review, study or job identifiers before logging state changes:
//
//	studyLogger := observability.WithStudyContext(logger, reviewID, studyID)
//	studyLogger.Info().Msg("citation status changed")
//
// Request handlers store request and correlation IDs on the context and
// WithRequestContext copies them onto a logger.
//
// # Metrics
//
//	metrics := observability.NewMetrics("screening")
//	metrics.RecordScreening("citation", "create", "included")
//
// All Record methods tolerate a nil receiver.
//
// # Temporal
//
// TemporalLogger adapts a zerolog.Logger to the Temporal SDK's log.Logger so
// client and worker logs share the service's format.
package observability
