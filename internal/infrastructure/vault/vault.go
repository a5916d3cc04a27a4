// Package vault seals and opens per-carrier delivery credentials.
//
// Each carrier gets its own AES-256-GCM key, derived with HKDF-SHA256 from a
// single master key and the carrier id. The carrier id is also bound as
// associated data, so a blob copied onto another carrier fails to open.
// Decrypted credentials are never cached: every Resolve decrypts again.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/storefront/backend/internal/domain/delivery"
)

const (
	// blobVersion prefixes every sealed blob so the scheme can be rotated
	blobVersion = "v1:"
	keyInfo     = "storefront/delivery-credentials/"
	// MinMasterKeyBytes is the minimum decoded master key length
	MinMasterKeyBytes = 32
)

var (
	ErrMasterKeyTooShort = errors.New("vault: master key must be at least 32 bytes")
	ErrMalformedBlob     = errors.New("vault: malformed credential blob")
	ErrDecryptFailed     = errors.New("vault: credential blob cannot be decrypted")
)

// sealedCredentials is the plaintext layout inside a blob
type sealedCredentials struct {
	APIKey   string `json:"api_key,omitempty"`
	Login    string `json:"login,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`
}

// Vault implements delivery.CredentialResolver over the carrier repository
type Vault struct {
	masterKey []byte
	companies delivery.DeliveryCompanyRepository
	logger    *zap.Logger
}

// New creates a vault. masterKey is base64 encoded; a non-base64 value of
// sufficient length is used as raw bytes.
func New(masterKey string, companies delivery.DeliveryCompanyRepository, logger *zap.Logger) (*Vault, error) {
	key, err := decodeMasterKey(masterKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{masterKey: key, companies: companies, logger: logger}, nil
}

func decodeMasterKey(masterKey string) ([]byte, error) {
	masterKey = strings.TrimSpace(masterKey)
	if decoded, err := base64.StdEncoding.DecodeString(masterKey); err == nil && len(decoded) >= MinMasterKeyBytes {
		return decoded, nil
	}
	if len(masterKey) >= MinMasterKeyBytes {
		return []byte(masterKey), nil
	}
	return nil, ErrMasterKeyTooShort
}

// GenerateMasterKey returns a random base64 encoded master key
func GenerateMasterKey() (string, error) {
	key := make([]byte, MinMasterKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// ---------------------------------------------------------------------------
// Seal / Open
// ---------------------------------------------------------------------------

// Seal encrypts creds for companyID
func (v *Vault) Seal(companyID uuid.UUID, creds delivery.Credentials) (string, error) {
	if creds.IsEmpty() {
		return "", nil
	}
	aead, err := v.aeadFor(companyID)
	if err != nil {
		return "", err
	}

	plaintext, err := json.Marshal(sealedCredentials{
		APIKey:   creds.APIKey,
		Login:    creds.Login,
		Password: creds.Password,
		Database: creds.Database,
	})
	if err != nil {
		return "", fmt.Errorf("vault: encode credentials: %w", err)
	}
	defer wipe(plaintext)

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, companyID[:])
	return blobVersion + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob sealed for companyID. An empty blob yields empty credentials.
func (v *Vault) Open(companyID uuid.UUID, blob string) (*delivery.Credentials, error) {
	if blob == "" {
		return &delivery.Credentials{}, nil
	}
	encoded, ok := strings.CutPrefix(blob, blobVersion)
	if !ok {
		return nil, ErrMalformedBlob
	}
	sealed, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}

	aead, err := v.aeadFor(companyID)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformedBlob
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, companyID[:])
	if err != nil {
		return nil, ErrDecryptFailed
	}
	defer wipe(plaintext)

	var s sealedCredentials
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	return &delivery.Credentials{
		APIKey:   s.APIKey,
		Login:    s.Login,
		Password: s.Password,
		Database: s.Database,
	}, nil
}

func (v *Vault) aeadFor(companyID uuid.UUID) (cipher.AEAD, error) {
	key := make([]byte, 32)
	defer wipe(key)
	kdf := hkdf.New(sha256.New, v.masterKey, nil, []byte(keyInfo+companyID.String()))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ---------------------------------------------------------------------------
// Repository backed operations
// ---------------------------------------------------------------------------

// Resolve loads and decrypts the carrier's credentials. The caller owns the
// result and should Wipe it once the dispatch is done.
func (v *Vault) Resolve(ctx context.Context, companyID uuid.UUID) (*delivery.Credentials, error) {
	company, err := v.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	creds, err := v.Open(companyID, company.CredentialBlob)
	if err != nil {
		v.logger.Error("Failed to open carrier credentials",
			zap.String("company_id", companyID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", delivery.ErrCredentialsUnusable, err)
	}
	return creds, nil
}

// Update applies a partial credential update and optionally switches the
// carrier's API format. The merged set must be usable for the resulting format.
func (v *Vault) Update(ctx context.Context, companyID uuid.UUID, update delivery.CredentialUpdate) (*delivery.DeliveryCompany, error) {
	company, err := v.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, err
	}

	current, err := v.Open(companyID, company.CredentialBlob)
	if err != nil {
		// an unreadable blob can only be replaced wholesale
		v.logger.Warn("Replacing unreadable carrier credentials",
			zap.String("company_id", companyID.String()),
			zap.Error(err),
		)
		current = &delivery.Credentials{}
	}
	defer current.Wipe()

	merged := update.ApplyTo(*current)
	defer merged.Wipe()

	if update.APIFormat != "" {
		if err := company.ChangeAPIFormat(update.APIFormat, &merged); err != nil {
			return nil, err
		}
	}
	if err := merged.UsableFor(company.APIFormat); err != nil {
		return nil, err
	}

	blob, err := v.Seal(companyID, merged)
	if err != nil {
		return nil, err
	}
	company.SetCredentialBlob(blob)

	if err := v.companies.Save(ctx, company); err != nil {
		return nil, err
	}

	v.logger.Info("Carrier credentials updated",
		zap.String("company_id", companyID.String()),
		zap.String("api_format", company.APIFormat.String()),
		zap.Stringer("credentials", merged),
	)
	return company, nil
}

// Ensure Vault implements CredentialResolver
var _ delivery.CredentialResolver = (*Vault)(nil)
