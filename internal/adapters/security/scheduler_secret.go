package security

import "golang.org/x/crypto/bcrypt"

// BcryptSecretVerifier checks the scheduler's shared secret against a bcrypt
// hash held in config. An empty hash rejects everything.
type BcryptSecretVerifier struct {
	hash []byte
}

func NewBcryptSecretVerifier(hash string) *BcryptSecretVerifier {
	return &BcryptSecretVerifier{hash: []byte(hash)}
}

func (v *BcryptSecretVerifier) VerifySecret(secret string) bool {
	if len(v.hash) == 0 || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(v.hash, []byte(secret)) == nil
}

// HashSecret produces a hash suitable for the scheduler secret setting.
func HashSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
