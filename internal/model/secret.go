package model

import (
	"time"

	"github.com/apiforllm/chat-server-go/internal/util"
)

// Secret stores a credential for function execution. Only the ciphertext is
// persisted; the dispatcher decrypts on demand and never caches the result.
type Secret struct {
	ID         string    `db:"id" json:"id"`
	AccountID  *string   `db:"account_id" json:"accountId,omitempty"`
	Name       string    `db:"name" json:"name"`
	Ciphertext string    `db:"ciphertext" json:"-"`
	IsPublic   bool      `db:"is_public" json:"isPublic"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// DecryptValue recovers the plaintext credential using the process secret.
func (s *Secret) DecryptValue(processSecret string) (string, error) {
	return util.Decrypt(processSecret, s.Ciphertext)
}

// SetValue replaces the stored ciphertext with the encryption of value.
func (s *Secret) SetValue(processSecret, value string) error {
	ciphertext, err := util.Encrypt(processSecret, value)
	if err != nil {
		return err
	}
	s.Ciphertext = ciphertext
	return nil
}
