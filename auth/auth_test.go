package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aouyang1/pimmich/util"
)

func TestGeneratePassword(t *testing.T) {
	p, err := GeneratePassword(PasswordLength)
	require.NoError(t, err)
	require.Len(t, p, PasswordLength)
	for _, r := range p {
		require.True(t, strings.ContainsRune(passwordAlphabet, r), "unexpected rune %q", r)
	}
	require.NotContains(t, passwordAlphabet, "0")
	require.NotContains(t, passwordAlphabet, "l")
}

func TestNewAccount(t *testing.T) {
	a, password, err := NewAccount("admin")
	require.NoError(t, err)
	require.Equal(t, "admin", a.Username)
	require.Len(t, a.FlaskSecretKey, 48)
	require.Regexp(t, regexp.MustCompile(`^pbkdf2:sha256:600000\$[A-Za-z0-9]{16}\$[0-9a-f]{64}$`), a.PasswordHash)
	require.True(t, a.Verify("admin", password))
	require.False(t, a.Verify("admin", password+"x"))
	require.False(t, a.Verify("root", password))
}

func TestCheckPasswordWerkzeugHashes(t *testing.T) {
	testData := []struct {
		name string
		hash string
		ok   bool
		err  bool
	}{
		{
			name: "pbkdf2",
			hash: "pbkdf2:sha256:1000$saltsaltsaltsalt$8967a16f653d01141921702adb98ee7610ca351e3b7916c462c16b2b9d70ed87",
			ok:   true,
		},
		{
			name: "scrypt",
			hash: "scrypt:1024:8:1$abcdEFGH12345678$329df3aff265df7f2a421167f0d9c137fb44000feefba91f727ff9d7191bcd2ca297ddf733146436602ffa835096e9b73cb59a9cea7d0cec0941e6c2d590c560",
			ok:   true,
		},
		{
			name: "wrong digest",
			hash: "pbkdf2:sha256:1000$saltsaltsaltsalt$0000a16f653d01141921702adb98ee7610ca351e3b7916c462c16b2b9d70ed87",
		},
		{
			name: "bcrypt is not a werkzeug hash",
			hash: "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy",
			err:  true,
		},
		{
			name: "missing salt",
			hash: "pbkdf2:sha256:1000",
			err:  true,
		},
	}

	for _, td := range testData {
		t.Run(td.name, func(t *testing.T) {
			ok, err := CheckPassword(td.hash, "hunter22")
			if td.err {
				require.ErrorIs(t, err, ErrMalformedHash)
				return
			}
			require.NoError(t, err)
			require.Equal(t, td.ok, ok)
		})
	}
}

func TestSeedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "admin.json")
	s := &Seeder{Path: path, Username: "admin", Writer: util.Local{}}

	password, err := s.Seed(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, password)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]string
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "flask_secret_key")
	require.NotContains(t, raw, "secret_key")

	a, err := Load(path)
	require.NoError(t, err)
	require.True(t, a.Verify("admin", password))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := s.Seed(context.Background())
	require.NoError(t, err)
	require.Empty(t, again)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, data, after)
}
