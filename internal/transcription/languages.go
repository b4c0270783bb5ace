package transcription

// DefaultLanguage is the language hint used when a request does not name one.
const DefaultLanguage = "en"

// Language is a selectable spoken language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var languages = []Language{
	{"en", "English"}, {"zh", "Chinese"}, {"es", "Spanish"}, {"hi", "Hindi"}, {"ar", "Arabic"},
	{"bn", "Bengali"}, {"pt", "Portuguese"}, {"ru", "Russian"}, {"ja", "Japanese"}, {"pa", "Punjabi"},
	{"de", "German"}, {"jv", "Javanese"}, {"ko", "Korean"}, {"fr", "French"}, {"te", "Telugu"},
	{"mr", "Marathi"}, {"tr", "Turkish"}, {"ta", "Tamil"}, {"vi", "Vietnamese"}, {"ur", "Urdu"},
	{"it", "Italian"}, {"fa", "Persian"}, {"gu", "Gujarati"}, {"kn", "Kannada"}, {"pl", "Polish"},
	{"uk", "Ukrainian"}, {"ml", "Malayalam"}, {"or", "Odia"}, {"my", "Burmese"}, {"th", "Thai"},
	{"am", "Amharic"}, {"az", "Azerbaijani"}, {"be", "Belarusian"}, {"bg", "Bulgarian"}, {"cs", "Czech"},
	{"da", "Danish"}, {"dv", "Dhivehi"}, {"el", "Greek"}, {"et", "Estonian"}, {"eu", "Basque"},
	{"fi", "Finnish"}, {"ga", "Irish"}, {"ha", "Hausa"}, {"he", "Hebrew"}, {"hu", "Hungarian"},
	{"id", "Indonesian"}, {"is", "Icelandic"}, {"kk", "Kazakh"}, {"km", "Khmer"}, {"ky", "Kyrgyz"},
	{"la", "Latin"}, {"lt", "Lithuanian"}, {"lv", "Latvian"}, {"mk", "Macedonian"}, {"mn", "Mongolian"},
	{"ms", "Malay"}, {"ne", "Nepali"}, {"no", "Norwegian"}, {"ps", "Pashto"}, {"ro", "Romanian"},
	{"si", "Sinhala"}, {"sk", "Slovak"}, {"sl", "Slovenian"}, {"so", "Somali"}, {"sq", "Albanian"},
	{"sr", "Serbian"}, {"sv", "Swedish"}, {"sw", "Swahili"}, {"tl", "Tagalog"},
	{"tn", "Tswana"}, {"uz", "Uzbek"}, {"xh", "Xhosa"}, {"yo", "Yoruba"}, {"zu", "Zulu"},
}

var languageNames = func() map[string]string {
	m := make(map[string]string, len(languages))
	for _, l := range languages {
		m[l.Code] = l.Name
	}
	return m
}()

// Languages returns the selectable languages in display order, English first.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// LanguageName returns the display name for code and whether the code is known.
func LanguageName(code string) (string, bool) {
	name, ok := languageNames[code]
	return name, ok
}

// IsSupported reports whether code is a selectable language.
func IsSupported(code string) bool {
	_, ok := languageNames[code]
	return ok
}
