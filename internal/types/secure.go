package types

import "log/slog"

// redactedPlaceholder is the string used to replace secret values in logs
// and serialization.
const redactedPlaceholder = "***REDACTED***"

// redactedJSON is the pre-computed JSON encoding of the redacted placeholder.
var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that prevents accidental logging or
// serialization of sensitive values (the station-feed API key and the
// Firebase auth token). It overrides String(), MarshalJSON(), and
// LogValue() to return a redacted placeholder.
//
// Use Unmask() to retrieve the raw plaintext when it is genuinely needed,
// i.e. when building the outbound request URL or auth query parameter.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string so secrets
// never appear in config dumps or API responses.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// LogValue implements slog.LogValuer so structured log output is redacted
// even when a SecretString is passed as a raw attribute value.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// IsSet reports whether a non-empty secret was configured. Components that
// are disabled-without-credential (the station feed, the Firebase sink)
// gate on this.
func (s SecretString) IsSet() bool {
	return s != ""
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}
