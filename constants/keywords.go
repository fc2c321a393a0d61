package constants

// ChallengeKeywords are lower-cased phrases that mark verification or
// rate-limit interstitials. The list is deliberately not exhaustive: the app
// rewords these screens between versions, so missing one is survivable while
// the classifier's structural specs still catch layout-level signals.
var ChallengeKeywords = []string{
	"confirm your identity",
	"verify your account",
	"verify it's you",
	"suspicious activity",
	"unusual activity",
	"we limit how often",
	"try again later",
	"challenge_required",
	"enter the confirmation code",
	"enter the code",
	"help us confirm",
	"your account has been temporarily locked",
	"we detected automated behavior",
}
