package credential

import (
	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/relaymesh/gateway/common/config"
	"github.com/relaymesh/gateway/common/logger"
)

// Default is the process-wide Store, built from config.CredentialEncryptionKey. Must run once at
// startup before any candidate secret is encrypted or decrypted.
var Default *Store

// Init builds Default. An empty CredentialEncryptionKey is only tolerated in non-master nodes
// that never touch plaintext secrets; everywhere else a missing key is a fatal misconfiguration,
// since serving it up unencrypted defeats the entire point of the store.
func Init() {
	if config.CredentialEncryptionKey == "" {
		if !config.IsMasterNode {
			logger.Logger.Warn("CREDENTIAL_ENCRYPTION_KEY is unset; secrets cannot be encrypted or decrypted")
			return
		}
		logger.Logger.Fatal("CREDENTIAL_ENCRYPTION_KEY is unset on a master node")
		return
	}

	store, err := NewStore(config.CredentialEncryptionKey)
	if err != nil {
		logger.Logger.Fatal("init credential store", zap.Error(err))
		return
	}
	Default = store
}

// Decrypt decrypts a secret using Default, returning an error if Init was never called (or found
// no key) instead of silently handing back ciphertext as if it were a usable token.
func Decrypt(encoded string) (string, error) {
	if Default == nil {
		return "", errors.New("credential store not initialized")
	}
	return Default.Decrypt(encoded)
}

// Encrypt encrypts a secret using Default.
func Encrypt(plaintext string) (string, error) {
	if Default == nil {
		return "", errors.New("credential store not initialized")
	}
	return Default.Encrypt(plaintext)
}
