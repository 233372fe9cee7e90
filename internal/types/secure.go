package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString prevents accidental logging or serialization of sensitive
// values (webhook secrets, vendor API keys). String() and MarshalJSON()
// return a redacted placeholder; call Unmask() where the raw value is
// genuinely needed.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret. Usage should be
// limited to constructing Authorization headers, signature checks, and
// connection strings.
func (s SecretString) Unmask() string {
	return string(s)
}
