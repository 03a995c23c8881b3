package config

// ConfigBackend is the platform-native store for non-secret settings.
// On macOS it is UserDefaults under the com.nestapp.nest domain; elsewhere
// it is a JSON file in the XDG config dir. Secrets never go through it,
// they live in the keychain (see keychain_darwin.go / keychain_other.go).
//
// The ok result distinguishes "key not set" from a zero value.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
