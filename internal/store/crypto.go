package store

import (
	"fmt"

	"github.com/ProtonMail/gopenpgp/v2/helper"

	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// Credentials are sealed with the master key before they touch disk and
// opened on demand only. Neither form is ever logged.

func sealCredentials(masterKey string, creds types.Credentials) ([]byte, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("seal credentials: master key is empty")
	}
	plaintext := fmt.Sprintf("%s\x00%s", creds.Username, creds.Password)
	armored, err := helper.EncryptMessageWithPassword([]byte(masterKey), plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}
	return []byte(armored), nil
}

func openCredentials(masterKey string, sealed []byte) (types.Credentials, error) {
	if len(sealed) == 0 {
		return types.Credentials{}, fmt.Errorf("open credentials: no credentials stored")
	}
	plaintext, err := helper.DecryptMessageWithPassword([]byte(masterKey), string(sealed))
	if err != nil {
		return types.Credentials{}, fmt.Errorf("open credentials: %w", err)
	}
	for i := 0; i < len(plaintext); i++ {
		if plaintext[i] == 0 {
			return types.Credentials{Username: plaintext[:i], Password: plaintext[i+1:]}, nil
		}
	}
	return types.Credentials{}, fmt.Errorf("open credentials: malformed payload")
}
