// Package transports provides delivery transports for extraction batches
// and the retry decorator that wraps them.
//
// Each transport implements engine.Transport: it receives finished batches
// from the batcher and hands them to a sink. Concrete transports live in
// subpackages:
//
//   - httppush: POSTs batches as JSON to an HTTP endpoint
//   - objectstore: writes batches as objects to S3-compatible storage
//   - sftppush: uploads batches as files over SSH/SFTP
//   - localdir: writes batches as files to a local directory
//   - discard: drops batches, for dry runs and tests
//
// Wrap any transport with NewRetrying to get bounded exponential backoff on
// retryable failures:
//
//	t, _ := httppush.New(httppush.Config{Endpoint: "https://sink/batches"})
//	retrying := transports.NewRetrying(t, transports.DefaultRetryConfig())
package transports
