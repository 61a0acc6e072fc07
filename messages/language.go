package messages

import "strings"

// LanguageCode selects the reply language. "auto" lets the model follow the user.
type LanguageCode string

const (
	LanguageAuto    LanguageCode = "auto"
	LanguageEnglish LanguageCode = "en"
	LanguageHindi   LanguageCode = "hi"
	LanguageBengali LanguageCode = "bn"
	LanguageTamil   LanguageCode = "ta"
	LanguageTelugu  LanguageCode = "te"
	LanguageKannada LanguageCode = "kn"
)

// Language describes one selectable reply language.
type Language struct {
	Code  LanguageCode
	Name  string // English display name, used in prompts
	Label string // name shown to the user
	Nudge string // system-prompt sentence
}

// Languages lists the supported languages, "auto" first.
var Languages = []Language{
	{Code: LanguageAuto, Name: "", Label: "Auto", Nudge: "Detect the user's language and reply in that language."},
	{Code: LanguageEnglish, Name: "English", Label: "English", Nudge: "Always reply in English."},
	{Code: LanguageHindi, Name: "Hindi", Label: "Hindi (हिन्दी)", Nudge: "Always reply in Hindi."},
	{Code: LanguageBengali, Name: "Bengali", Label: "Bengali (বাংলা)", Nudge: "Always reply in Bengali."},
	{Code: LanguageTamil, Name: "Tamil", Label: "Tamil (தமிழ்)", Nudge: "Always reply in Tamil."},
	{Code: LanguageTelugu, Name: "Telugu", Label: "Telugu (తెలుగు)", Nudge: "Always reply in Telugu."},
	{Code: LanguageKannada, Name: "Kannada", Label: "Kannada (ಕನ್ನಡ)", Nudge: "Always reply in Kannada."},
}

// LookupLanguage finds a language by code. Unknown or empty codes resolve to auto
// with ok=false.
func LookupLanguage(code LanguageCode) (Language, bool) {
	c := LanguageCode(strings.ToLower(strings.TrimSpace(string(code))))
	for _, l := range Languages {
		if l.Code == c {
			return l, true
		}
	}
	return Languages[0], false
}

// IsAuto reports whether the code selects automatic language detection.
func (c LanguageCode) IsAuto() bool {
	l, _ := LookupLanguage(c)
	return l.Code == LanguageAuto
}

// DisplayName returns the English name for a fixed language, or "" for auto
// and unknown codes.
func (c LanguageCode) DisplayName() string {
	l, _ := LookupLanguage(c)
	return l.Name
}
