// Package auth creates the initial admin account for the photo-frame web UI.
//
// Password hashes use the werkzeug format (method$salt$hex) so the Flask
// application can check them with check_password_hash.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"

	"github.com/aouyang1/pimmich/util"
)

const (
	// no I, l, 1, O, 0 and no punctuation so the password is easy to type from a screen
	passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	PasswordLength   = 12
	secretKeyBytes   = 24

	saltAlphabet     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	saltLength       = 16
	PBKDF2Iterations = 600000
	scryptKeyLen     = 64
)

var ErrMalformedHash = errors.New("malformed password hash")

type Account struct {
	Username       string `json:"username"`
	PasswordHash   string `json:"password_hash"`
	FlaskSecretKey string `json:"flask_secret_key"`
}

func randomString(alphabet string, n int) (string, error) {
	size := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

func GeneratePassword(n int) (string, error) {
	return randomString(passwordAlphabet, n)
}

// HashPassword returns a pbkdf2:sha256 hash in werkzeug's format.
func HashPassword(password string) (string, error) {
	salt, err := randomString(saltAlphabet, saltLength)
	if err != nil {
		return "", err
	}
	key := pbkdf2.Key([]byte(password), []byte(salt), PBKDF2Iterations, sha256.Size, sha256.New)
	return fmt.Sprintf("pbkdf2:sha256:%d$%s$%s", PBKDF2Iterations, salt, hex.EncodeToString(key)), nil
}

// CheckPassword verifies password against a werkzeug hash. Both pbkdf2:sha256
// and scrypt hashes are accepted, since the application may rewrite the file.
func CheckPassword(hash, password string) (bool, error) {
	method, rest, ok := strings.Cut(hash, "$")
	if !ok {
		return false, ErrMalformedHash
	}
	salt, want, ok := strings.Cut(rest, "$")
	if !ok {
		return false, ErrMalformedHash
	}

	args := strings.Split(method, ":")
	var got []byte
	switch args[0] {
	case "pbkdf2":
		iterations := PBKDF2Iterations
		if len(args) > 1 && args[1] != "sha256" {
			return false, fmt.Errorf("%w: unsupported digest %q", ErrMalformedHash, args[1])
		}
		if len(args) > 2 {
			n, err := strconv.Atoi(args[2])
			if err != nil || n < 1 {
				return false, fmt.Errorf("%w: bad iteration count %q", ErrMalformedHash, args[2])
			}
			iterations = n
		}
		got = pbkdf2.Key([]byte(password), []byte(salt), iterations, sha256.Size, sha256.New)
	case "scrypt":
		n, r, p := 1<<15, 8, 1
		if len(args) == 4 {
			var errs [3]error
			n, errs[0] = strconv.Atoi(args[1])
			r, errs[1] = strconv.Atoi(args[2])
			p, errs[2] = strconv.Atoi(args[3])
			if err := errors.Join(errs[:]...); err != nil {
				return false, fmt.Errorf("%w: %w", ErrMalformedHash, err)
			}
		}
		key, err := scrypt.Key([]byte(password), []byte(salt), n, r, p, scryptKeyLen)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrMalformedHash, err)
		}
		got = key
	default:
		return false, fmt.Errorf("%w: unsupported method %q", ErrMalformedHash, method)
	}
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(got)), []byte(want)) == 1, nil
}

// NewAccount creates an account with a fresh random password, returned in clear
// text so it can be shown to the operator once.
func NewAccount(username string) (Account, string, error) {
	password, err := GeneratePassword(PasswordLength)
	if err != nil {
		return Account{}, "", fmt.Errorf("failed to generate password: %w", err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Account{}, "", fmt.Errorf("failed to hash password: %w", err)
	}
	key := make([]byte, secretKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return Account{}, "", fmt.Errorf("failed to generate secret key: %w", err)
	}

	return Account{
		Username:       username,
		PasswordHash:   hash,
		FlaskSecretKey: hex.EncodeToString(key),
	}, password, nil
}

// Verify reports whether username and password match the account. A
// malformed hash never verifies.
func (a Account) Verify(username, password string) bool {
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.Username)) != 1 {
		return false
	}
	ok, err := CheckPassword(a.PasswordHash, password)
	return err == nil && ok
}

// Load reads the account file at path.
func Load(path string) (Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Account{}, err
	}
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return Account{}, fmt.Errorf("failed to parse admin account %s: %w", path, err)
	}
	if a.Username == "" || a.PasswordHash == "" {
		return Account{}, fmt.Errorf("admin account %s is incomplete", path)
	}
	return a, nil
}

// Seeder writes the admin account file once.
type Seeder struct {
	Path     string
	Username string
	Writer   util.Writer
}

// Seed returns the clear password when it created the file, or "" when the
// file already existed.
func (s *Seeder) Seed(ctx context.Context) (string, error) {
	exists, err := util.Exists(s.Path)
	if err != nil {
		return "", err
	}
	if exists {
		return "", nil
	}

	account, password, err := NewAccount(s.Username)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return "", err
	}
	if err := s.Writer.WriteFile(ctx, s.Path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("failed to write admin account: %w", err)
	}
	return password, nil
}
