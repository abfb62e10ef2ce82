package crypto

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/jmcleod/wordvault/errs"
	"github.com/jmcleod/wordvault/internal/util"
)

const (
	// SecretWordCount is the number of words in every secret.
	SecretWordCount = 10
	authWordCount   = 5
)

//go:embed wordlist.txt
var wordlistData string

var (
	wordlistOnce sync.Once
	wordlist     []string
)

func loadWordlist() []string {
	wordlistOnce.Do(func() {
		wordlist = strings.Fields(wordlistData)
	})
	return wordlist
}

// SecretWords is the ordered ten-word secret. The first five words are the
// authentication words, the last five the HMAC words. Order is significant.
type SecretWords interface {
	fmt.Stringer
	Words() []string
	AuthWords() []string
	HMACWords() []string
	// AuthKey returns the authentication words joined by single spaces.
	AuthKey() []byte
	// HMACKey returns the HMAC words joined by single spaces.
	HMACKey() []byte
}

type secretWords struct {
	words []string
}

func (s *secretWords) String() string {
	return strings.Join(s.words, " ")
}

func (s *secretWords) Words() []string {
	return append([]string(nil), s.words...)
}

func (s *secretWords) AuthWords() []string {
	return append([]string(nil), s.words[:authWordCount]...)
}

func (s *secretWords) HMACWords() []string {
	return append([]string(nil), s.words[authWordCount:]...)
}

func (s *secretWords) AuthKey() []byte {
	return []byte(strings.Join(s.words[:authWordCount], " "))
}

func (s *secretWords) HMACKey() []byte {
	return []byte(strings.Join(s.words[authWordCount:], " "))
}

// NewSecretWords validates words and returns them as a SecretWords. Exactly
// ten non-empty words without embedded whitespace are required.
func NewSecretWords(words []string) (SecretWords, error) {
	if len(words) != SecretWordCount {
		return nil, errs.Validationf("secret_words", "expected %d words, got %d", SecretWordCount, len(words))
	}
	for i, w := range words {
		if w == "" {
			return nil, errs.Validationf("secret_words", "word %d is empty", i+1)
		}
		if strings.ContainsFunc(w, unicode.IsSpace) {
			return nil, errs.Validationf("secret_words", "word %d contains whitespace", i+1)
		}
	}
	return &secretWords{words: append([]string(nil), words...)}, nil
}

// ParseSecretWords splits str on whitespace and validates the result.
func ParseSecretWords(str string) (SecretWords, error) {
	return NewSecretWords(strings.Fields(str))
}

// GenerateSecretWords draws ten words uniformly from the embedded word list.
func GenerateSecretWords() (SecretWords, error) {
	list := loadWordlist()
	words := make([]string, SecretWordCount)
	for i := range words {
		idx, err := util.RandomIntn(len(list))
		if err != nil {
			return nil, fmt.Errorf("generating secret word: %w", err)
		}
		words[i] = list[idx]
	}
	return &secretWords{words: words}, nil
}
