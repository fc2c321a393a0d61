package constants

import (
	"github.com/valyala/fasttemplate"
)

// Device channel kinds.
const (
	ADB = "adb"
)

// TargetPackage is the package id of the automated social app.
const TargetPackage = "com.instagram.android"

// Android key codes used by the executor.
const (
	KeycodeHome  = 3
	KeycodeBack  = 4
	KeycodeEnter = 66
)

// Deep-link URI template. Opening a profile via a view intent is both faster
// and far more stable across app versions than tapping through search.
var profileURITemplate = fasttemplate.New(
	"https://www.instagram.com/{username}/", "{", "}")

// ProfileURI builds the view-intent URI for a user handle.
func ProfileURI(username string) string {
	return profileURITemplate.ExecuteString(map[string]any{"username": username})
}
