package constants

// Wire error codes. Zero means no code on the envelope.
const (
	CodeInvalidToken   = 1
	CodeNotFound       = 2
	CodeStorageFailure = 3
)
