package snapshot

import (
	"errors"

	"github.com/dmitrijs2005/ledgersync/internal/cryptox"
)

// ErrPassphraseRequired is returned when a sealed snapshot is read without a passphrase.
var ErrPassphraseRequired = errors.New("snapshot is sealed: passphrase required")

// Seal encrypts a snapshot under a passphrase.
func Seal(blob, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	return cryptox.Seal(blob, passphrase)
}

// Unseal returns the plain snapshot. Unsealed input is returned unchanged.
func Unseal(blob, passphrase []byte) ([]byte, error) {
	if !cryptox.IsSealed(blob) {
		return blob, nil
	}
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	return cryptox.Unseal(blob, passphrase)
}
