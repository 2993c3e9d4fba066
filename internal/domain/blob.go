package domain

// Blob format versions understood by the envelope encryption service.
const (
	BlobVersionLegacy  = "1.0"
	BlobVersionCurrent = "2.0"

	BlobAlgorithmAESGCM = "aes-256-gcm"
)

// EncryptedBlob is the at-rest representation of an encrypted secret. All byte
// fields are hex encoded. Blobs are immutable once produced; the external
// credential store persists and returns them verbatim.
type EncryptedBlob struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Salt       string `json:"salt,omitempty"`
	KeyID      string `json:"keyId"`
	Algorithm  string `json:"algorithm"`
	Version    string `json:"version"`
}
