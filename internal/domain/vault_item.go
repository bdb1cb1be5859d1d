package domain

import (
	"regexp"
	"strings"
	"time"
)

// ItemKind enumerates the kinds of secrets a vault holds.
type ItemKind string

const (
	ItemKindPassword ItemKind = "password"
	ItemKindCard     ItemKind = "card"
	ItemKindNote     ItemKind = "note"
)

// Valid reports whether k is a known kind.
func (k ItemKind) Valid() bool {
	switch k {
	case ItemKindPassword, ItemKindCard, ItemKindNote:
		return true
	}
	return false
}

// VaultItem is the stored, encrypted form of a secret.
type VaultItem struct {
	ID         string
	UserID     int64
	Kind       ItemKind
	Ciphertext []byte
	Nonce      []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PasswordEntry is a saved website login.
type PasswordEntry struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
	URL      string `json:"url,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// CardEntry is a saved payment card.
type CardEntry struct {
	Label  string `json:"label,omitempty"`
	Holder string `json:"holder"`
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
	Notes  string `json:"notes,omitempty"`
}

// NoteEntry is a free-form secure note.
type NoteEntry struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// VaultSecret is the decrypted payload of a VaultItem. Exactly one variant
// matching Kind is set.
type VaultSecret struct {
	Kind     ItemKind       `json:"kind"`
	Password *PasswordEntry `json:"password,omitempty"`
	Card     *CardEntry     `json:"card,omitempty"`
	Note     *NoteEntry     `json:"note,omitempty"`
}

// VaultEntry is a decrypted item as returned to its owner.
type VaultEntry struct {
	ID        string
	Kind      ItemKind
	Secret    VaultSecret
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	cardExpiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)
	cvvPattern        = regexp.MustCompile(`^[0-9]{3,4}$`)
)

// Validate returns field level problems keyed by field name. An empty map means valid.
func (s VaultSecret) Validate() map[string]any {
	problems := map[string]any{}
	if !s.Kind.Valid() {
		problems["kind"] = "must be one of password, card, note"
		return problems
	}

	switch s.Kind {
	case ItemKindPassword:
		if s.Password == nil {
			problems["password"] = "required for kind password"
			break
		}
		if strings.TrimSpace(s.Password.Name) == "" {
			problems["password.name"] = "required"
		}
		if s.Password.Password == "" {
			problems["password.password"] = "required"
		}
	case ItemKindCard:
		if s.Card == nil {
			problems["card"] = "required for kind card"
			break
		}
		if strings.TrimSpace(s.Card.Holder) == "" {
			problems["card.holder"] = "required"
		}
		if n := len(CardDigits(s.Card.Number)); n < 12 || n > 19 {
			problems["card.number"] = "must contain 12 to 19 digits"
		}
		if !cardExpiryPattern.MatchString(s.Card.Expiry) {
			problems["card.expiry"] = "must be MM/YY"
		}
		if !cvvPattern.MatchString(s.Card.CVV) {
			problems["card.cvv"] = "must be 3 or 4 digits"
		}
	case ItemKindNote:
		if s.Note == nil {
			problems["note"] = "required for kind note"
			break
		}
		if strings.TrimSpace(s.Note.Title) == "" {
			problems["note.title"] = "required"
		}
	}
	return problems
}

// Title is the display name used in listings.
func (s VaultSecret) Title() string {
	switch {
	case s.Password != nil:
		return s.Password.Name
	case s.Card != nil:
		if s.Card.Label != "" {
			return s.Card.Label
		}
		return "Card " + MaskCardNumber(s.Card.Number)
	case s.Note != nil:
		return s.Note.Title
	}
	return ""
}

// Hint is a non-secret detail shown next to the title in listings.
func (s VaultSecret) Hint() string {
	switch {
	case s.Password != nil:
		return s.Password.Username
	case s.Card != nil:
		return MaskCardNumber(s.Card.Number)
	}
	return ""
}

// CardDigits strips everything except digits from a card number.
func CardDigits(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskCardNumber keeps only the last four digits.
func MaskCardNumber(number string) string {
	digits := CardDigits(number)
	if len(digits) <= 4 {
		return "•••• " + digits
	}
	return "•••• " + digits[len(digits)-4:]
}
