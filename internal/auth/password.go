package auth

import "golang.org/x/crypto/bcrypt"

// PasswordHasher hashes and compares passwords with bcrypt.
type PasswordHasher struct {
	cost  int
	dummy []byte
}

// NewPasswordHasher returns a hasher using cost, or bcrypt.DefaultCost when
// cost is out of range.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	return &PasswordHasher{cost: cost, dummy: dummy}
}

func (h *PasswordHasher) Hash(raw string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Compare reports whether raw matches hash.
func (h *PasswordHasher) Compare(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// CompareMissing burns the same work as Compare for an unknown account and
// always reports false.
func (h *PasswordHasher) CompareMissing(raw string) bool {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(raw))
	return false
}
