package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that runs can be
// grepped and aggregated by object, stage, or queue.
const (
	// Object identification
	KeySHA1 = "sha1" // legacy SHA-1 hex of the source row
	KeySHA2 = "sha2" // new SHA-256 hex computed by the receiver
	KeyOID  = "oid"  // Postgres Large Object id

	// Object data
	KeySize      = "size"       // declared size from the source row
	KeyBytesRead = "bytes_read" // bytes actually streamed from Postgres
	KeyMimeType  = "mime_type"  // content type from the source row

	// Pipeline
	KeyStage   = "stage"   // worker group: observer, receiver, storer, committer
	KeyWorker  = "worker"  // worker index within its group
	KeyQueue   = "queue"   // queue name: receive, store, commit
	KeyAttempt = "attempt" // retry attempt number
	KeyBatch   = "batch"   // committer batch size

	// Storage
	KeyBucket = "bucket" // S3 bucket name
	KeyKey    = "key"    // S3 object key

	// General
	KeyError    = "error"
	KeyDuration = "duration_ms"
)
