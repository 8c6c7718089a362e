package objectstore

// S3SSEConfig configures server-side encryption for S3Store writes.
type S3SSEConfig struct {
	// Mode selects the encryption mode: "", "sse-s3", or "sse-kms".
	Mode string
	// KMSKeyID is the customer-managed key id, used only when Mode is
	// "sse-kms". Empty means the account's default KMS key.
	KMSKeyID string
}

// S3Config configures an S3Store. It is a narrow, objectstore-owned
// shape rather than a dependency on the top-level config package, so
// this package stays usable without pulling in the rest of the
// engine's configuration surface.
type S3Config struct {
	Bucket                string
	Region                string
	Endpoint              string
	Prefix                string
	AccessKey             string
	SecretKey             string
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}
