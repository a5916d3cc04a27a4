package delivery

import (
	"encoding/json"
	"fmt"
)

// Credentials are the decrypted secrets of one carrier.
// They live only for the duration of a single dispatch and never serialise
// their values.
type Credentials struct {
	APIKey   string
	Login    string
	Password string
	Database string
}

// UsableFor checks that the credential set can authenticate against a carrier
// speaking the given API format.
func (c *Credentials) UsableFor(format APIFormat) error {
	if !format.IsValid() {
		return ErrInvalidAPIFormat
	}
	if format != APIFormatJSONRPC {
		return nil
	}
	if c == nil || c.Login == "" || c.Password == "" || c.Database == "" {
		return fmt.Errorf("%w: json-rpc carriers need login, password and database", ErrCredentialsUnusable)
	}
	return nil
}

// IsEmpty reports whether no secret is set
func (c *Credentials) IsEmpty() bool {
	return c == nil || (c.APIKey == "" && c.Login == "" && c.Password == "" && c.Database == "")
}

// Wipe clears the secrets held in memory
func (c *Credentials) Wipe() {
	if c == nil {
		return
	}
	c.APIKey, c.Login, c.Password, c.Database = "", "", "", ""
}

// String implements fmt.Stringer without revealing secrets
func (c Credentials) String() string {
	p := c.Presence()
	return fmt.Sprintf("Credentials{apiKey:%t login:%t password:%t database:%t}",
		p.HasAPIKey, p.HasLogin, p.HasPassword, p.HasDatabase)
}

// MarshalJSON exposes only which secrets are configured
func (c Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Presence())
}

// CredentialPresence tells an operator which secrets are configured
type CredentialPresence struct {
	HasAPIKey   bool `json:"hasApiKey"`
	HasLogin    bool `json:"hasLogin"`
	HasPassword bool `json:"hasPassword"`
	HasDatabase bool `json:"hasDatabase"`
}

// Presence returns the non-secret view of the credential set
func (c *Credentials) Presence() CredentialPresence {
	if c == nil {
		return CredentialPresence{}
	}
	return CredentialPresence{
		HasAPIKey:   c.APIKey != "",
		HasLogin:    c.Login != "",
		HasPassword: c.Password != "",
		HasDatabase: c.Database != "",
	}
}

// ---------------------------------------------------------------------------
// Credential updates
// ---------------------------------------------------------------------------

// OptionalString distinguishes an absent field from an explicit null.
// Absent leaves the stored value unchanged, null clears it, a string sets it.
type OptionalString struct {
	Present bool
	Null    bool
	Value   string
}

// SetString returns an OptionalString that sets value
func SetString(value string) OptionalString {
	return OptionalString{Present: true, Value: value}
}

// ClearString returns an OptionalString that clears the field
func ClearString() OptionalString {
	return OptionalString{Present: true, Null: true}
}

// UnmarshalJSON records presence; it is only invoked when the key exists
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Present = true
	if string(data) == "null" {
		o.Null = true
		o.Value = ""
		return nil
	}
	o.Null = false
	return json.Unmarshal(data, &o.Value)
}

// Apply returns the new value of a field given its current value
func (o OptionalString) Apply(current string) string {
	switch {
	case !o.Present:
		return current
	case o.Null:
		return ""
	default:
		return o.Value
	}
}

// CredentialUpdate is a partial update of a carrier's secrets
type CredentialUpdate struct {
	APIKey   OptionalString `json:"apiKey"`
	Login    OptionalString `json:"login"`
	Password OptionalString `json:"password"`
	Database OptionalString `json:"database"`
	// APIFormat optionally switches the carrier's transport; the merged
	// credentials are revalidated for the new format.
	APIFormat APIFormat `json:"apiFormat,omitempty"`
}

// ApplyTo merges the update into current and returns the resulting set
func (u CredentialUpdate) ApplyTo(current Credentials) Credentials {
	return Credentials{
		APIKey:   u.APIKey.Apply(current.APIKey),
		Login:    u.Login.Apply(current.Login),
		Password: u.Password.Apply(current.Password),
		Database: u.Database.Apply(current.Database),
	}
}
